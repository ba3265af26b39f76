package durablestreams

import (
	"fmt"
	"time"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"go.uber.org/zap"

	"github.com/durable-streams/core/internal/coordinator"
	"github.com/durable-streams/core/internal/storage"
)

func init() {
	caddy.RegisterModule(Handler{})
	httpcaddyfile.RegisterHandlerDirective("durable_streams", parseCaddyfile)
}

// Handler implements the durable streams HTTP surface as a Caddy HTTP
// handler module.
type Handler struct {
	// DataDir is the directory used for hot-tier metadata and cold
	// segment blobs. If empty, everything lives in memory (tests, or a
	// throwaway dev instance).
	DataDir string `json:"data_dir,omitempty"`
	// Backend selects the hot-tier metadata store: "bbolt" (default) or
	// "lmdb".
	Backend string `json:"backend,omitempty"`
	// MaxFileHandles bounds the cold-segment read file-handle pool.
	MaxFileHandles int `json:"max_file_handles,omitempty"`

	LongPollTimeout      caddy.Duration `json:"long_poll_timeout,omitempty"`
	LongPollCacheSeconds int            `json:"long_poll_cache_seconds,omitempty"`
	SSEReconnectInterval caddy.Duration `json:"sse_reconnect_interval,omitempty"`
	WSWriteTimeout       caddy.Duration `json:"ws_write_timeout,omitempty"`
	MaxChunkBytes        int            `json:"max_chunk_bytes,omitempty"`
	ReadCoalesceWindow   caddy.Duration `json:"read_coalesce_window,omitempty"`
	WaiterStagger        caddy.Duration `json:"waiter_stagger,omitempty"`
	IdleEvictAfter       caddy.Duration `json:"idle_evict_after,omitempty"`
	SegmentRotationBytes int            `json:"segment_rotation_bytes,omitempty"`
	SegmentRotationMsgs  int            `json:"segment_rotation_messages,omitempty"`

	registry *coordinator.Registry
	logger   *zap.Logger
}

// CaddyModule returns the Caddy module information.
func (Handler) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID:  "http.handlers.durable_streams",
		New: func() caddy.Module { return new(Handler) },
	}
}

// Provision sets up the storage engine and coordinator registry.
func (h *Handler) Provision(ctx caddy.Context) error {
	h.logger = ctx.Logger()

	if h.MaxFileHandles == 0 {
		h.MaxFileHandles = 100
	}

	cfg := coordinator.DefaultConfig()
	if h.LongPollTimeout != 0 {
		cfg.LongPollTimeout = time.Duration(h.LongPollTimeout)
	}
	if h.LongPollCacheSeconds != 0 {
		cfg.LongPollCacheSeconds = h.LongPollCacheSeconds
	}
	if h.SSEReconnectInterval != 0 {
		cfg.SSEReconnectInterval = time.Duration(h.SSEReconnectInterval)
	}
	if h.WSWriteTimeout != 0 {
		cfg.WSWriteTimeout = time.Duration(h.WSWriteTimeout)
	}
	if h.MaxChunkBytes != 0 {
		cfg.MaxChunkBytes = h.MaxChunkBytes
	}
	if h.ReadCoalesceWindow != 0 {
		cfg.ReadCoalesceWindow = time.Duration(h.ReadCoalesceWindow)
	}
	if h.WaiterStagger != 0 {
		cfg.WaiterStagger = time.Duration(h.WaiterStagger)
	}
	if h.IdleEvictAfter != 0 {
		cfg.IdleEvictAfter = time.Duration(h.IdleEvictAfter)
	}
	if h.SegmentRotationBytes != 0 {
		cfg.Rotation.MaxSegmentBytes = h.SegmentRotationBytes
	}
	if h.SegmentRotationMsgs != 0 {
		cfg.Rotation.MaxSegmentMessages = h.SegmentRotationMsgs
	}

	var kv storage.KV
	var blobs storage.BlobStore
	if h.DataDir == "" {
		kv = storage.NewMemoryKV()
		blobs = storage.NewMemoryBlobStore()
		h.logger.Info("using in-memory store (no data_dir configured)")
	} else {
		var err error
		switch h.Backend {
		case "", "bbolt":
			kv, err = storage.NewBboltKV(h.DataDir + "/metadata")
		case "lmdb":
			kv, err = storage.NewLmdbKV(h.DataDir + "/metadata")
		default:
			return fmt.Errorf("durable_streams: unknown backend %q", h.Backend)
		}
		if err != nil {
			return fmt.Errorf("durable_streams: init metadata store: %w", err)
		}
		blobs, err = storage.NewFsBlobStore(h.DataDir+"/segments", h.MaxFileHandles)
		if err != nil {
			return fmt.Errorf("durable_streams: init blob store: %w", err)
		}
		h.logger.Info("using persistent store", zap.String("data_dir", h.DataDir), zap.String("backend", h.Backend))
	}

	store := storage.New(kv, blobs, cfg.Rotation)
	h.registry = coordinator.NewRegistry(store, cfg)
	return nil
}

// Validate ensures the handler configuration is internally consistent.
func (h *Handler) Validate() error {
	if h.Backend != "" && h.Backend != "bbolt" && h.Backend != "lmdb" {
		return fmt.Errorf("durable_streams: backend must be \"bbolt\" or \"lmdb\", got %q", h.Backend)
	}
	if h.Backend == "lmdb" && h.DataDir == "" {
		return fmt.Errorf("durable_streams: lmdb backend requires data_dir")
	}
	return nil
}

// Cleanup releases the storage engine.
func (h *Handler) Cleanup() error {
	if h.registry != nil {
		return h.registry.Close()
	}
	return nil
}

// UnmarshalCaddyfile parses the Caddyfile syntax for durable_streams:
//
//	durable_streams {
//	    data_dir /var/lib/durable-streams
//	    backend bbolt
//	    max_file_handles 100
//	    long_poll_timeout 30s
//	    long_poll_cache_seconds 5
//	    sse_reconnect_interval 60s
//	    ws_write_timeout 10s
//	    max_chunk_bytes 1048576
//	    read_coalesce_window 25ms
//	    waiter_stagger 250ms
//	    idle_evict_after 10m
//	    segment_rotation_bytes 8388608
//	    segment_rotation_messages 10000
//	}
func (h *Handler) UnmarshalCaddyfile(d *caddyfile.Dispenser) error {
	for d.Next() {
		for d.NextBlock(0) {
			switch d.Val() {
			case "data_dir":
				if !d.Args(&h.DataDir) {
					return d.ArgErr()
				}
			case "backend":
				if !d.Args(&h.Backend) {
					return d.ArgErr()
				}
			case "max_file_handles":
				if err := parseIntDirective(d, &h.MaxFileHandles); err != nil {
					return err
				}
			case "long_poll_timeout":
				if err := parseDurationDirective(d, &h.LongPollTimeout); err != nil {
					return err
				}
			case "long_poll_cache_seconds":
				if err := parseIntDirective(d, &h.LongPollCacheSeconds); err != nil {
					return err
				}
			case "sse_reconnect_interval":
				if err := parseDurationDirective(d, &h.SSEReconnectInterval); err != nil {
					return err
				}
			case "ws_write_timeout":
				if err := parseDurationDirective(d, &h.WSWriteTimeout); err != nil {
					return err
				}
			case "max_chunk_bytes":
				if err := parseIntDirective(d, &h.MaxChunkBytes); err != nil {
					return err
				}
			case "read_coalesce_window":
				if err := parseDurationDirective(d, &h.ReadCoalesceWindow); err != nil {
					return err
				}
			case "waiter_stagger":
				if err := parseDurationDirective(d, &h.WaiterStagger); err != nil {
					return err
				}
			case "idle_evict_after":
				if err := parseDurationDirective(d, &h.IdleEvictAfter); err != nil {
					return err
				}
			case "segment_rotation_bytes":
				if err := parseIntDirective(d, &h.SegmentRotationBytes); err != nil {
					return err
				}
			case "segment_rotation_messages":
				if err := parseIntDirective(d, &h.SegmentRotationMsgs); err != nil {
					return err
				}
			default:
				return d.Errf("unknown subdirective: %s", d.Val())
			}
		}
	}
	return nil
}

func parseCaddyfile(h httpcaddyfile.Helper) (caddyhttp.MiddlewareHandler, error) {
	var handler Handler
	err := handler.UnmarshalCaddyfile(h.Dispenser)
	return &handler, err
}

func parseIntDirective(d *caddyfile.Dispenser, dst *int) error {
	var val string
	if !d.Args(&val) {
		return d.ArgErr()
	}
	var n int
	if _, err := fmt.Sscanf(val, "%d", &n); err != nil {
		return d.Errf("invalid integer %q: %v", val, err)
	}
	*dst = n
	return nil
}

func parseDurationDirective(d *caddyfile.Dispenser, dst *caddy.Duration) error {
	var val string
	if !d.Args(&val) {
		return d.ArgErr()
	}
	dur, err := caddy.ParseDuration(val)
	if err != nil {
		return d.Errf("invalid duration %q: %v", val, err)
	}
	*dst = caddy.Duration(dur)
	return nil
}

// Interface guards
var (
	_ caddy.Provisioner           = (*Handler)(nil)
	_ caddy.Validator             = (*Handler)(nil)
	_ caddy.CleanerUpper          = (*Handler)(nil)
	_ caddyhttp.MiddlewareHandler = (*Handler)(nil)
	_ caddyfile.Unmarshaler       = (*Handler)(nil)
)
