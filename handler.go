package durablestreams

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"go.uber.org/zap"

	"github.com/durable-streams/core/internal/content"
	"github.com/durable-streams/core/internal/live"
	"github.com/durable-streams/core/internal/offset"
	"github.com/durable-streams/core/internal/producer"
	"github.com/durable-streams/core/internal/storage"
)

// Protocol header names (spec §6).
const (
	HeaderStreamNextOffset      = "Stream-Next-Offset"
	HeaderStreamCursor          = "Stream-Cursor"
	HeaderStreamUpToDate        = "Stream-Up-To-Date"
	HeaderStreamClosed          = "Stream-Closed"
	HeaderStreamWriteTimestamp  = "Stream-Write-Timestamp"
	HeaderStreamSeq             = "Stream-Seq"
	HeaderStreamTTL             = "Stream-TTL"
	HeaderStreamExpiresAt       = "Stream-Expires-At"
	HeaderProducerID            = "Producer-Id"
	HeaderProducerEpoch         = "Producer-Epoch"
	HeaderProducerSeq           = "Producer-Seq"
	HeaderProducerExpectedSeq   = "Producer-Expected-Seq"
	HeaderProducerReceivedSeq   = "Producer-Received-Seq"
)

// ServeHTTP implements caddyhttp.MiddlewareHandler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request, next caddyhttp.Handler) error {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Stream-Seq, Stream-TTL, Stream-Expires-At, Stream-Closed, Producer-Id, Producer-Epoch, Producer-Seq, If-None-Match")
	w.Header().Set("Access-Control-Expose-Headers", "Stream-Next-Offset, Stream-Cursor, Stream-Up-To-Date, Stream-Closed, Stream-Write-Timestamp, Stream-TTL, Stream-Expires-At, ETag, Location, Producer-Epoch, Producer-Seq, Producer-Expected-Seq, Producer-Received-Seq")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	streamPath := r.URL.Path

	h.logger.Debug("handling request",
		zap.String("method", r.Method),
		zap.String("path", streamPath),
		zap.String("query", r.URL.RawQuery))

	var err error
	switch r.Method {
	case http.MethodPut:
		err = h.handleCreate(w, r, streamPath)
	case http.MethodHead:
		err = h.handleHead(w, r, streamPath)
	case http.MethodGet:
		err = h.handleRead(w, r, streamPath)
	case http.MethodPost:
		err = h.handleAppend(w, r, streamPath)
	case http.MethodDelete:
		err = h.handleDelete(w, r, streamPath)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil
	}

	if err != nil {
		h.writeError(w, err)
	}
	return nil
}

// handleCreate handles PUT: create or idempotently re-create a stream
// (spec §4.F).
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request, path string) error {
	contentType := r.Header.Get("Content-Type")
	ttlStr := r.Header.Get(HeaderStreamTTL)
	expiresAtStr := r.Header.Get(HeaderStreamExpiresAt)

	if ttlStr != "" && expiresAtStr != "" {
		return newHTTPError(http.StatusBadRequest, "cannot specify both Stream-TTL and Stream-Expires-At")
	}

	var ttlSeconds *int64
	if ttlStr != "" {
		ttl, err := parseTTL(ttlStr)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, err.Error())
		}
		ttlSeconds = &ttl
	}

	var expiresAt *time.Time
	if expiresAtStr != "" {
		t, err := time.Parse(time.RFC3339, expiresAtStr)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, "invalid Stream-Expires-At format")
		}
		expiresAt = &t
	}

	var initialData []byte
	if r.ContentLength > 0 {
		var err error
		initialData, err = io.ReadAll(r.Body)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, "failed to read body")
		}
	}

	closeHeader := r.Header.Get(HeaderStreamClosed) == "true"

	opts := storage.CreateOptions{
		ContentType: contentType,
		TTLSeconds:  ttlSeconds,
		ExpiresAt:   expiresAt,
		InitialData: initialData,
		Close:       closeHeader,
	}

	meta, wasCreated, err := h.registry.Create(path, opts)
	if err != nil {
		if errors.Is(err, storage.ErrConfigMismatch) {
			return newHTTPError(http.StatusConflict, "stream exists with different configuration")
		}
		return err
	}

	w.Header().Set("Content-Type", meta.ContentType)
	codec := offset.NewCodec(meta.Salt)
	w.Header().Set(HeaderStreamNextOffset, codec.Encode(meta.TailCounter))
	if meta.Closed {
		w.Header().Set(HeaderStreamClosed, "true")
	}
	writeExpiryHeaders(w, meta, time.Now())

	if wasCreated {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		w.Header().Set("Location", fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.Path))
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	return nil
}

// handleHead returns current tail headers with an empty body.
func (h *Handler) handleHead(w http.ResponseWriter, r *http.Request, path string) error {
	meta, err := h.registry.Get(path)
	if err != nil {
		if errors.Is(err, storage.ErrStreamNotFound) {
			return newHTTPError(http.StatusNotFound, "stream not found")
		}
		return err
	}

	codec := offset.NewCodec(meta.Salt)
	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set(HeaderStreamNextOffset, codec.Encode(meta.TailCounter))
	w.Header().Set("Cache-Control", "no-store")
	if meta.Closed {
		w.Header().Set(HeaderStreamClosed, "true")
	}
	writeExpiryHeaders(w, meta, time.Now())

	w.WriteHeader(http.StatusOK)
	return nil
}

// handleRead handles GET: a bounded read, a long-poll wait, an SSE
// session, or the internal WebSocket bridge, selected by the `live`
// query parameter (spec §4.G, §4.I, §6).
func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request, path string) error {
	meta, err := h.registry.Get(path)
	if err != nil {
		if errors.Is(err, storage.ErrStreamNotFound) {
			return newHTTPError(http.StatusNotFound, "stream not found")
		}
		return err
	}

	query := r.URL.Query()
	offsetValues, offsetProvided := query["offset"]
	offsetStr := ""
	if offsetProvided {
		if len(offsetValues) > 1 {
			return newHTTPError(http.StatusBadRequest, "multiple offset parameters not allowed")
		}
		offsetStr = offsetValues[0]
		if offsetStr == "" {
			return newHTTPError(http.StatusBadRequest, "offset parameter cannot be empty")
		}
	}

	codec := offset.NewCodec(meta.Salt)
	resolved, err := offset.Parse(offsetStr, codec)
	if err != nil {
		return newHTTPError(http.StatusBadRequest, "invalid offset")
	}
	counter := resolved.Counter
	isNow := resolved.Kind == offset.LiteralNow
	if isNow {
		counter = meta.TailCounter
	}

	liveMode := query.Get("live")
	cursor := query.Get("cursor")

	if liveMode == "long-poll" && !offsetProvided {
		return newHTTPError(http.StatusBadRequest, "offset required for long-poll mode")
	}
	if liveMode == "sse" && !offsetProvided {
		return newHTTPError(http.StatusBadRequest, "offset required for SSE mode")
	}

	switch liveMode {
	case "sse":
		return h.serveSSE(w, r, path, meta, counter, cursor)
	case "websocket":
		return h.serveWS(w, r, path, meta, counter, cursor)
	}

	if isNow {
		// `now` never waits: it is resolved once against the tail at
		// request time and always answers immediately (spec §4.A).
		resp, err := h.buildReadResponse(path, meta, counter, cursor, false)
		if err != nil {
			return err
		}
		resp.headers["Cache-Control"] = "no-store"
		return h.finishRead(w, r, resp)
	}

	if liveMode == "long-poll" {
		return h.handleLongPoll(w, r, path, meta, counter, cursor)
	}

	resp, err := h.buildReadResponse(path, meta, counter, cursor, false)
	if err != nil {
		return err
	}
	return h.finishRead(w, r, resp)
}

// handleLongPoll implements the long-poll wait loop: answer immediately
// if data (or closed-at-tail) is already available, otherwise park until
// woken, timed out, or the client disconnects (spec §4.G, §4.H).
func (h *Handler) handleLongPoll(w http.ResponseWriter, r *http.Request, path string, meta *storage.StreamMeta, counter uint64, cursor string) error {
	resp, err := h.buildReadResponse(path, meta, counter, cursor, true)
	if err != nil {
		return err
	}
	if resp.status == http.StatusOK || meta.Closed {
		return h.finishRead(w, r, resp)
	}

	waiterURL := r.URL.RequestURI()
	entry := h.registry.Park(path, waiterURL, counter)
	defer h.registry.Cancel(entry)

	timer := time.NewTimer(h.registry.Cfg.LongPollTimeout)
	defer timer.Stop()

	select {
	case <-entry.Ready:
	case <-timer.C:
	case <-r.Context().Done():
		return nil
	}

	if cached, ok := h.registry.PollCache.Get(waiterURL); ok {
		return writeCachedResponse(w, cached)
	}

	freshMeta, err := h.registry.Get(path)
	if err != nil {
		if errors.Is(err, storage.ErrStreamNotFound) {
			return newHTTPError(http.StatusNotFound, "stream not found")
		}
		return err
	}
	resp, err = h.buildReadResponse(path, freshMeta, counter, cursor, true)
	if err != nil {
		return err
	}
	return h.finishRead(w, r, resp)
}

func (h *Handler) serveSSE(w http.ResponseWriter, r *http.Request, path string, meta *storage.StreamMeta, from uint64, cursor string) error {
	sess := live.SSESession{
		Path:              path,
		Strategy:          meta.Strategy,
		IsTextual:         content.IsTextual(content.Normalize(meta.ContentType)),
		ReconnectInterval: h.registry.Cfg.SSEReconnectInterval,
		Cursor:            cursor,
		Hub:               h.registry.Hub,
		CatchUp: func(fromCounter uint64) ([][]byte, string, bool, error) {
			m, err := h.registry.Get(path)
			if err != nil {
				return nil, "", false, err
			}
			var messages [][]byte
			next := fromCounter
			for {
				res, err := h.registry.Read(path, m.TailCounter, m.Closed, next, h.registry.Cfg.MaxChunkBytes)
				if err != nil {
					return nil, "", false, err
				}
				messages = append(messages, res.Messages...)
				advanced := res.NextCounter > next
				next = res.NextCounter
				if !advanced || next >= m.TailCounter {
					break
				}
			}
			closedAtTail := m.Closed && next >= m.TailCounter
			return messages, offset.NewCodec(m.Salt).Encode(next), closedAtTail, nil
		},
	}
	return live.ServeSSE(w, r, from, sess)
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request, path string, meta *storage.StreamMeta, from uint64, cursor string) error {
	sess := live.WSSession{
		Path:         path,
		Strategy:     meta.Strategy,
		IsTextual:    content.IsTextual(content.Normalize(meta.ContentType)),
		WriteTimeout: h.registry.Cfg.WSWriteTimeout,
		Cursor:       cursor,
		Hub:          h.registry.Hub,
		CatchUp: func(fromCounter uint64) ([][]byte, string, uint64, bool, error) {
			m, err := h.registry.Get(path)
			if err != nil {
				return nil, "", 0, false, err
			}
			var messages [][]byte
			next := fromCounter
			for {
				res, err := h.registry.Read(path, m.TailCounter, m.Closed, next, h.registry.Cfg.MaxChunkBytes)
				if err != nil {
					return nil, "", 0, false, err
				}
				messages = append(messages, res.Messages...)
				advanced := res.NextCounter > next
				next = res.NextCounter
				if !advanced || next >= m.TailCounter {
					break
				}
			}
			closedAtTail := m.Closed && next >= m.TailCounter
			return messages, offset.NewCodec(m.Salt).Encode(next), next, closedAtTail, nil
		},
	}
	return live.ServeWS(w, r, from, sess)
}

// readResponse is a fully-rendered read result, independent of whether
// it is written straight to an http.ResponseWriter or stashed in the
// long-poll pre-cache for a waiter that hasn't woken yet.
type readResponse struct {
	status  int
	headers map[string]string
	body    []byte
}

// buildReadResponse resolves a bounded window starting at counter and
// renders every response header the spec's read path defines: next
// offset, up-to-date/closed flags, cursor, write timestamp, TTL/expiry,
// ETag, and Cache-Control (spec §4.G, §6).
func (h *Handler) buildReadResponse(path string, meta *storage.StreamMeta, counter uint64, cursorIn string, forLongPoll bool) (readResponse, error) {
	res, err := h.registry.Read(path, meta.TailCounter, meta.Closed, counter, h.registry.Cfg.MaxChunkBytes)
	if err != nil {
		return readResponse{}, err
	}

	codec := offset.NewCodec(meta.Salt)
	reqOffsetStr := codec.Encode(counter)
	nextOffsetStr := codec.Encode(res.NextCounter)
	upToDate := res.UpToDate || res.Gap

	headers := map[string]string{"Content-Type": meta.ContentType, HeaderStreamNextOffset: nextOffsetStr}
	if upToDate {
		headers[HeaderStreamUpToDate] = "true"
	}
	if res.ClosedAtTail {
		headers[HeaderStreamClosed] = "true"
	} else {
		headers[HeaderStreamCursor] = offset.NextCursor(cursorIn, time.Now())
	}
	if ms := res.WriteTimestamp.UnixMilli(); ms > 0 {
		headers[HeaderStreamWriteTimestamp] = strconv.FormatInt(ms, 10)
	}
	writeExpiryHeadersMap(headers, meta, time.Now())

	var status int
	var body []byte
	if len(res.Messages) == 0 {
		status = http.StatusNoContent
	} else {
		status = http.StatusOK
		body = content.Format(meta.Strategy, res.Messages)
		headers["ETag"] = computeETag(path, reqOffsetStr, nextOffsetStr, res.ClosedAtTail)
	}

	switch {
	case forLongPoll:
		headers["Cache-Control"] = fmt.Sprintf("public, max-age=%d", h.registry.Cfg.LongPollCacheSeconds)
	case !upToDate && len(res.Messages) > 0:
		headers["Cache-Control"] = "public, max-age=60, stale-while-revalidate=300"
	default:
		headers["Cache-Control"] = "no-store"
	}

	return readResponse{status: status, headers: headers, body: body}, nil
}

// finishRead applies If-None-Match handling and writes resp to w.
func (h *Handler) finishRead(w http.ResponseWriter, r *http.Request, resp readResponse) error {
	if etag := resp.headers["ETag"]; etag != "" {
		if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
			for k, v := range resp.headers {
				w.Header().Set(k, v)
			}
			w.WriteHeader(http.StatusNotModified)
			return nil
		}
	}
	return writeReadResponse(w, resp)
}

func writeReadResponse(w http.ResponseWriter, resp readResponse) error {
	for k, v := range resp.headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.status)
	if len(resp.body) > 0 {
		_, err := w.Write(resp.body)
		return err
	}
	return nil
}

func writeCachedResponse(w http.ResponseWriter, resp live.CachedResponse) error {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, err := w.Write(resp.Body)
		return err
	}
	return nil
}

// renderLongPollURL rebuilds a CachedResponse for a waiter's original
// request URL, used to pre-warm the long-poll cache before waking it
// (spec §4.H/§4.I).
func (h *Handler) renderLongPollURL(path string, rawURL string) (live.CachedResponse, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return live.CachedResponse{}, err
	}
	q := parsed.Query()

	meta, err := h.registry.Get(path)
	if err != nil {
		return live.CachedResponse{}, err
	}
	codec := offset.NewCodec(meta.Salt)
	resolved, err := offset.Parse(q.Get("offset"), codec)
	if err != nil {
		return live.CachedResponse{}, err
	}
	counter := resolved.Counter
	if resolved.Kind == offset.LiteralNow {
		counter = meta.TailCounter
	}

	resp, err := h.buildReadResponse(path, meta, counter, q.Get("cursor"), true)
	if err != nil {
		return live.CachedResponse{}, err
	}
	return live.CachedResponse{Status: resp.status, Body: resp.body, Headers: resp.headers}, nil
}

// handleAppend handles POST: close-only, append, or close-with-data
// (spec §4.E, §4.F).
func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request, path string) error {
	meta, err := h.registry.Get(path)
	if err != nil {
		if errors.Is(err, storage.ErrStreamNotFound) {
			return newHTTPError(http.StatusNotFound, "stream not found")
		}
		return err
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return newHTTPError(http.StatusBadRequest, "failed to read body")
	}

	closeHeader := r.Header.Get(HeaderStreamClosed) == "true"
	if len(body) == 0 && !closeHeader {
		return newHTTPError(http.StatusBadRequest, "empty body not allowed")
	}

	var contentType string
	if len(body) > 0 {
		contentType = r.Header.Get("Content-Type")
		if contentType == "" {
			return newHTTPError(http.StatusBadRequest, "Content-Type header is required")
		}
		if !content.Matches(meta.ContentType, contentType) {
			return newHTTPError(http.StatusConflict, "content type mismatch")
		}
	}

	prodHeaders, hasProducer, err := parseProducerHeaders(r)
	if err != nil {
		return newHTTPError(http.StatusBadRequest, err.Error())
	}

	var streamSeq *int64
	if seqStr := r.Header.Get(HeaderStreamSeq); seqStr != "" {
		v, err := strconv.ParseInt(seqStr, 10, 64)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, "invalid Stream-Seq")
		}
		streamSeq = &v
	}

	if len(body) == 0 && closeHeader {
		already, res, err := h.registry.CloseOnly(path)
		if err != nil {
			if errors.Is(err, storage.ErrStreamNotFound) {
				return newHTTPError(http.StatusNotFound, "stream not found")
			}
			return err
		}
		w.Header().Set(HeaderStreamNextOffset, res.NextOffset)
		w.Header().Set(HeaderStreamClosed, "true")
		_ = already
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	opts := storage.AppendOptions{ContentType: contentType, Close: closeHeader, StreamSeq: streamSeq}
	if hasProducer {
		opts.Producer = &prodHeaders
	}

	res, err := h.registry.Append(path, body, opts)
	if err != nil {
		return mapAppendError(err)
	}

	w.Header().Set(HeaderStreamNextOffset, res.NextOffset)
	if res.Outcome.Closed {
		w.Header().Set(HeaderStreamClosed, "true")
	}
	if hasProducer {
		w.Header().Set(HeaderProducerEpoch, strconv.FormatInt(prodHeaders.Epoch, 10))
		w.Header().Set(HeaderProducerSeq, strconv.FormatInt(res.Outcome.ProducerLastSeq, 10))
	}

	if res.Outcome.Duplicate {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	h.registry.PrecacheAndWake(path, res.Outcome.TailCounter, res.ReadyWaiters, func(url string) (live.CachedResponse, error) {
		return h.renderLongPollURL(path, url)
	})

	if hasProducer {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusNoContent)
	}
	return nil
}

func mapAppendError(err error) error {
	switch {
	case errors.Is(err, storage.ErrStreamNotFound):
		return newHTTPError(http.StatusNotFound, "stream not found")
	case errors.Is(err, storage.ErrStreamClosed):
		return newHTTPError(http.StatusConflict, "stream is closed")
	case errors.Is(err, storage.ErrContentTypeMismatch):
		return newHTTPError(http.StatusConflict, "content type mismatch")
	case errors.Is(err, storage.ErrStreamSeqRegression):
		return newHTTPError(http.StatusConflict, "Stream-Seq must strictly increase")
	case errors.Is(err, content.ErrInvalidJSON):
		return newHTTPError(http.StatusBadRequest, "invalid JSON")
	case errors.Is(err, content.ErrNotJSONArray):
		return newHTTPError(http.StatusBadRequest, "body must be a JSON array")
	case errors.Is(err, content.ErrEmptyJSONArray):
		return newHTTPError(http.StatusBadRequest, "empty JSON array not allowed")
	case errors.Is(err, content.ErrEmptyBody):
		return newHTTPError(http.StatusBadRequest, "empty body not allowed")
	case errors.Is(err, producer.ErrFirstSeqNotZero), errors.Is(err, producer.ErrEpochSeqNotZero):
		return newHTTPError(http.StatusConflict, "producer epoch must start at seq 0")
	case errors.Is(err, producer.ErrStaleEpoch):
		return newHTTPError(http.StatusConflict, "producer epoch is stale")
	case errors.Is(err, producer.ErrSeqGap):
		var conflict *storage.ProducerConflictError
		if errors.As(err, &conflict) {
			return &producerGapError{expectedSeq: conflict.ExpectedSeq, receivedSeq: conflict.ReceivedSeq}
		}
		return newHTTPError(http.StatusConflict, "producer sequence gap or regression")
	default:
		return err
	}
}

// producerGapError carries the diagnostic headers a gap/regression
// rejection must echo (spec §4.E).
type producerGapError struct {
	expectedSeq, receivedSeq int64
}

func (e *producerGapError) Error() string { return "producer sequence gap or regression" }

// handleDelete handles DELETE: remove a stream and release its live
// clients and waiters (spec §4.J).
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, path string) error {
	if err := h.registry.Delete(path); err != nil {
		if errors.Is(err, storage.ErrStreamNotFound) {
			return newHTTPError(http.StatusNotFound, "stream not found")
		}
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func parseProducerHeaders(r *http.Request) (producer.Headers, bool, error) {
	id := r.Header.Get(HeaderProducerID)
	epochStr := r.Header.Get(HeaderProducerEpoch)
	seqStr := r.Header.Get(HeaderProducerSeq)

	epochSet := epochStr != ""
	seqSet := seqStr != ""
	if !producer.HasAny(id, epochSet, seqSet) {
		return producer.Headers{}, false, nil
	}
	if !producer.HasAll(id, epochSet, seqSet) {
		return producer.Headers{}, false, producer.ErrPartialHeaders
	}
	epoch, err := strconv.ParseInt(epochStr, 10, 64)
	if err != nil {
		return producer.Headers{}, false, fmt.Errorf("invalid Producer-Epoch")
	}
	seq, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil {
		return producer.Headers{}, false, fmt.Errorf("invalid Producer-Seq")
	}
	return producer.Headers{ID: id, Epoch: epoch, Seq: seq}, true, nil
}

func writeExpiryHeaders(w http.ResponseWriter, meta *storage.StreamMeta, now time.Time) {
	if ttl, ok := remainingTTLSeconds(meta, now); ok {
		w.Header().Set(HeaderStreamTTL, strconv.FormatInt(ttl, 10))
	}
	if meta.ExpiresAt != nil {
		w.Header().Set(HeaderStreamExpiresAt, meta.ExpiresAt.UTC().Format(time.RFC3339))
	}
}

func writeExpiryHeadersMap(headers map[string]string, meta *storage.StreamMeta, now time.Time) {
	if ttl, ok := remainingTTLSeconds(meta, now); ok {
		headers[HeaderStreamTTL] = strconv.FormatInt(ttl, 10)
	}
	if meta.ExpiresAt != nil {
		headers[HeaderStreamExpiresAt] = meta.ExpiresAt.UTC().Format(time.RFC3339)
	}
}

func remainingTTLSeconds(meta *storage.StreamMeta, now time.Time) (int64, bool) {
	if meta.TTLSeconds == nil {
		return 0, false
	}
	deadline := meta.CreatedAt.Add(time.Duration(*meta.TTLSeconds) * time.Second)
	remaining := int64(deadline.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// computeETag derives a strong ETag from streamId + offset + nextOffset
// + closedAtTail (spec §4.H): any change to where a read landed changes
// the tag, and closed-at-tail reads get a stable tag for their stream.
func computeETag(streamID, reqOffset, nextOffset string, closedAtTail bool) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%t", streamID, reqOffset, nextOffset, closedAtTail)))
	return fmt.Sprintf(`"%x"`, sum[:12])
}

// HTTP error handling, grounded on the teacher's httpError/writeError.
type httpError struct {
	status  int
	message string
	headers map[string]string
}

func (e *httpError) Error() string { return e.message }

func newHTTPError(status int, message string) *httpError {
	return &httpError{status: status, message: message}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var perr *producerGapError
	if errors.As(err, &perr) {
		w.Header().Set(HeaderProducerExpectedSeq, strconv.FormatInt(perr.expectedSeq, 10))
		w.Header().Set(HeaderProducerReceivedSeq, strconv.FormatInt(perr.receivedSeq, 10))
		http.Error(w, perr.Error(), http.StatusConflict)
		return
	}

	var httpErr *httpError
	if errors.As(err, &httpErr) {
		for k, v := range httpErr.headers {
			w.Header().Set(k, v)
		}
		http.Error(w, httpErr.message, httpErr.status)
		return
	}

	if errors.Is(err, storage.ErrSegmentMissing) {
		h.logger.Error("cold segment missing", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Error("internal error", zap.Error(err))
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// parseTTL parses and validates a TTL string: a non-negative integer
// without leading zeros, no sign, no fractional or scientific notation.
var ttlRegex = regexp.MustCompile(`^[1-9][0-9]*$|^0$`)

func parseTTL(s string) (int64, error) {
	if !ttlRegex.MatchString(s) {
		return 0, fmt.Errorf("invalid TTL format: must be a non-negative integer without leading zeros")
	}
	return strconv.ParseInt(s, 10, 64)
}
