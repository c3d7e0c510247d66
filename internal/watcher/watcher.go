package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/models"
	"github.com/fyerfyer/lang-data/internal/services"
	"github.com/sirupsen/logrus"
)

type action int

const (
	actionIngest action = iota + 1
	actionForget
)

// Watcher 监听目录变化并同步到检索流水线
// 创建或修改的文件重新导入，删除或移走的文件从集合中删除
type Watcher struct {
	pipeline *services.RetrievalPipeline
	loader   document.Loader
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *logrus.Logger

	mu      sync.Mutex
	pending map[string]action
	onFlush func(ingested, forgotten []string)
}

// Option 监听器配置选项
type Option func(*Watcher)

// WithDebounce 设置事件合并间隔
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithFlushHook 每批事件处理完后回调
func WithFlushHook(fn func(ingested, forgotten []string)) Option {
	return func(w *Watcher) {
		w.onFlush = fn
	}
}

// New 创建监听器，删除文件需要流水线配置了导入记录
func New(pipeline *services.RetrievalPipeline, loader document.Loader, opts ...Option) (*Watcher, error) {
	if pipeline.Ledger() == nil {
		return nil, document.NewConfigError("ledger", "watch requires a ledger")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher: %w", err)
	}

	w := &Watcher{
		pipeline: pipeline,
		loader:   loader,
		fsw:      fsw,
		debounce: 500 * time.Millisecond,
		logger:   logrus.New(),
		pending:  make(map[string]action),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Add 递归监听目录，返回目录下已有的可导入文件
func (w *Watcher) Add(dir string) ([]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && hidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
			return nil
		}
		if supported(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.WithFields(logrus.Fields{
		"dir":   root,
		"files": len(files),
	}).Info("Watching directory")
	return files, nil
}

// Sync 导入目录下已有的文件
func (w *Watcher) Sync(ctx context.Context, dir string) (*services.IngestReport, error) {
	files, err := w.Add(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return &services.IngestReport{}, nil
	}
	return w.pipeline.IngestFiles(ctx, w.loader, files)
}

// Run 处理文件事件直到ctx结束
func (w *Watcher) Run(ctx context.Context) error {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.WithoutCancel(ctx))
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("File watcher error")

		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// Close 停止监听
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// handle 记录事件，返回是否需要处理
func (w *Watcher) handle(event fsnotify.Event) bool {
	path := event.Name
	if hidden(path) {
		return false
	}

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.IsDir() {
			// 新目录里的文件通过Add一并导入
			files, err := w.Add(path)
			if err != nil {
				w.logger.WithError(err).WithField("dir", path).Warn("Failed to watch new directory")
				return false
			}
			for _, f := range files {
				w.mark(f, actionIngest)
			}
			return len(files) > 0
		}
		if !supported(path) {
			return false
		}
		w.mark(path, actionIngest)
		return true

	case event.Has(fsnotify.Write):
		if !supported(path) {
			return false
		}
		w.mark(path, actionIngest)
		return true

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if !supported(path) {
			return false
		}
		w.mark(path, actionForget)
		return true
	}
	return false
}

func (w *Watcher) mark(path string, a action) {
	w.mu.Lock()
	w.pending[path] = a
	w.mu.Unlock()
}

// flush 处理累积的事件，同一文件只保留最后一次动作
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]action)
	w.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	var ingest, forget []string
	for path, a := range pending {
		if a == actionIngest {
			ingest = append(ingest, path)
		} else {
			forget = append(forget, path)
		}
	}
	sort.Strings(ingest)
	sort.Strings(forget)

	var forgotten []string
	for _, path := range forget {
		n, err := w.pipeline.Forget(ctx, path)
		if err != nil {
			if !errors.Is(err, models.ErrSourceNotFound) {
				w.logger.WithError(err).WithField("path", path).Warn("Failed to forget removed file")
			}
			continue
		}
		forgotten = append(forgotten, path)
		w.logger.WithFields(logrus.Fields{
			"path":   path,
			"chunks": n,
		}).Info("Removed file forgotten")
	}

	var ingested []string
	if len(ingest) > 0 {
		report, err := w.pipeline.IngestFiles(ctx, w.loader, ingest)
		if err != nil {
			w.logger.WithError(err).Warn("Failed to ingest changed files")
		}
		if report != nil {
			for _, r := range report.Results {
				if !r.Failed() {
					ingested = append(ingested, ingest[r.Index])
				}
			}
		}
	}

	if w.onFlush != nil {
		w.onFlush(ingested, forgotten)
	}
}

// supported 只处理加载器能解析的文件
func supported(path string) bool {
	return document.DetectContentType(path) != document.Unknown
}

// hidden 忽略以点开头的文件和编辑器临时文件
func hidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~")
}
