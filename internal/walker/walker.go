// Package walker scans evidence folders, classifies files by the
// Windows artifact conventions and fans decode work out over a bounded
// worker pool. Decode failures never abort a scan: each file either
// yields records or is logged and skipped.
package walker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/wabproject/wab/internal/lnk"
	"github.com/wabproject/wab/internal/model"
	"github.com/wabproject/wab/internal/prefetch"
	"github.com/wabproject/wab/internal/recyclebin"
)

var log = logrus.WithField("component", "walker")

// Kind identifies which decoder a file is routed to.
type Kind int

const (
	KindSkip Kind = iota
	KindPrefetch
	KindLnk
	KindRecycleBin
)

// Classify routes a file by name and directory convention: .pf files or
// anything under a prefetch directory decode as prefetch, .lnk files as
// shortcuts, and $I/I files under a recycle bin directory as deletion
// records.
func Classify(dir, name string) Kind {
	low := strings.ToLower(name)
	dirLow := strings.ToLower(dir)

	switch {
	case strings.HasSuffix(low, ".pf") || strings.Contains(dirLow, "prefetch"):
		return KindPrefetch
	case strings.HasSuffix(low, ".lnk"):
		return KindLnk
	case (strings.HasPrefix(low, "$i") || strings.HasPrefix(low, "i")) &&
		strings.Contains(dirLow, "recycle.bin"):
		return KindRecycleBin
	default:
		return KindSkip
	}
}

type task struct {
	path  string
	kind  Kind
	mtime time.Time
	atime time.Time
	ctime time.Time
}

// Walker decodes every recognized artifact under an evidence folder.
type Walker struct {
	fs      afero.Fs
	workers int
}

// New returns a walker over fs. A nil fs means the host filesystem;
// workers <= 0 selects runtime.NumCPU() capped at 8.
func New(fs afero.Fs, workers int) *Walker {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers > 8 {
			workers = 8
		}
	}
	return &Walker{fs: fs, workers: workers}
}

// Walk decodes every classified file under root. Only an unusable root
// or cancellation fail the walk; everything per-file is logged and
// skipped. Record order is not defined, the store orders by event time.
func (w *Walker) Walk(ctx context.Context, root string) ([]*model.ArtifactRecord, error) {
	info, err := w.fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("opening folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a folder: %s", root)
	}

	// A folder named after the prefetch store is listed directly and
	// only its .pf entries are decoded.
	if strings.Contains(strings.ToLower(root), "prefetch") {
		return w.walkPrefetchFolder(ctx, root)
	}

	tasks := make(chan task)
	var walkErr error
	go func() {
		defer close(tasks)
		walkErr = afero.Walk(w.fs, root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				log.WithError(err).Warnf("skipping %s", path)
				return nil
			}
			if info.IsDir() {
				return nil
			}
			kind := Classify(filepath.Dir(path), info.Name())
			if kind == KindSkip {
				return nil
			}
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			at, ct := fileTimes(info)
			select {
			case tasks <- task{path: path, kind: kind, mtime: info.ModTime(), atime: at, ctime: ct}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
	}()

	var (
		mu      sync.Mutex
		records []*model.ArtifactRecord
		wg      sync.WaitGroup
	)
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				recs := w.decodeOne(t)
				if len(recs) == 0 {
					continue
				}
				mu.Lock()
				records = append(records, recs...)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return records, walkErr
}

// walkPrefetchFolder lists root non-recursively and decodes .pf files.
func (w *Walker) walkPrefetchFolder(ctx context.Context, root string) ([]*model.ArtifactRecord, error) {
	infos, err := afero.ReadDir(w.fs, root)
	if err != nil {
		return nil, fmt.Errorf("listing prefetch folder: %w", err)
	}

	var records []*model.ArtifactRecord
	for _, info := range infos {
		if cerr := ctx.Err(); cerr != nil {
			return records, cerr
		}
		if info.IsDir() || !strings.HasSuffix(strings.ToLower(info.Name()), ".pf") {
			continue
		}
		path := filepath.Join(root, info.Name())
		data, err := afero.ReadFile(w.fs, path)
		if err != nil {
			log.WithError(err).Errorf("failed to read %s", path)
			continue
		}
		rec := prefetch.Decode(data, path, info.ModTime())
		records = append(records, &rec)
	}
	return records, nil
}

func (w *Walker) decodeOne(t task) []*model.ArtifactRecord {
	data, err := afero.ReadFile(w.fs, t.path)
	if err != nil {
		log.WithError(err).Errorf("failed to read %s", t.path)
		return nil
	}

	switch t.kind {
	case KindPrefetch:
		rec := prefetch.Decode(data, t.path, t.mtime)
		return []*model.ArtifactRecord{&rec}
	case KindLnk:
		rec := lnk.Decode(t.path, data, t.mtime, t.atime, t.ctime)
		return []*model.ArtifactRecord{&rec}
	case KindRecycleBin:
		if rec, ok := recyclebin.Decode(data, t.path); ok {
			return []*model.ArtifactRecord{&rec}
		}
	}
	return nil
}
