package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"pastelcraft.ai/internal/sim/pastelnet"
)

// JSONLZstdWriter appends JSON lines to one zstd file per UTC hour:
// <dir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst. Reopening an hour appends a new
// zstd frame, which readers decode transparently.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time
	onClose func(path string)

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

// SetOnClose registers fn to run with the path of every file the writer
// finishes, on rotation and on Close. fn runs with the writer locked.
func (w *JSONLZstdWriter) SetOnClose(fn func(path string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onClose = fn
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour || w.w == nil {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var errs []error
	closing := ""
	if w.f != nil {
		closing = w.f.Name()
	}
	if w.w != nil {
		errs = append(errs, w.w.Flush())
	}
	if w.enc != nil {
		errs = append(errs, w.enc.Close())
		w.enc = nil
	}
	if w.f != nil {
		errs = append(errs, w.f.Close())
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	err := errors.Join(errs...)
	if closing != "" && err == nil && w.onClose != nil {
		w.onClose(closing)
	}
	return err
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// DeliveryLogger writes one entry per expired transmission.
type DeliveryLogger struct{ w *JSONLZstdWriter }

func NewDeliveryLogger(dataDir string) *DeliveryLogger {
	return &DeliveryLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "deliveries"), "deliveries")}
}

func (l *DeliveryLogger) WriteDelivery(ev pastelnet.DeliveryEvent) error { return l.w.Write(ev) }
func (l *DeliveryLogger) Close() error                                   { return l.w.Close() }
func (l *DeliveryLogger) OnClose(fn func(path string))                   { l.w.SetOnClose(fn) }

// EditEntry is one line of the edit journal. Rejected edits are journaled
// too, with Error set, and skipped on replay.
type EditEntry struct {
	Tick  uint64         `json:"tick"`
	Edit  pastelnet.Edit `json:"edit"`
	Error string         `json:"error,omitempty"`
}

// EditLogger is the replay journal.
type EditLogger struct{ w *JSONLZstdWriter }

func NewEditLogger(dataDir string) *EditLogger {
	return &EditLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "edits"), "edits")}
}

func (l *EditLogger) WriteEdit(tick uint64, e pastelnet.Edit, applyErr error) error {
	entry := EditEntry{Tick: tick, Edit: e}
	if applyErr != nil {
		entry.Error = applyErr.Error()
	}
	return l.w.Write(entry)
}

func (l *EditLogger) Close() error                 { return l.w.Close() }
func (l *EditLogger) OnClose(fn func(path string)) { l.w.SetOnClose(fn) }

// ListFiles returns the hourly files for prefix in dir, oldest first.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// ReadJSONL decodes every line of a zstd JSONL file and calls fn with it.
// Iteration stops at the first error from fn.
func ReadJSONL[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	jd := json.NewDecoder(bufio.NewReaderSize(dec, 64*1024))
	for {
		var v T
		if err := jd.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}

// ReadEdits loads the whole edit journal under dataDir in file order.
func ReadEdits(dataDir string) ([]EditEntry, error) {
	files, err := ListFiles(filepath.Join(dataDir, "edits"), "edits")
	if err != nil {
		return nil, err
	}
	var out []EditEntry
	for _, path := range files {
		if err := ReadJSONL(path, func(e EditEntry) error {
			out = append(out, e)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}
