package runner

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// settleDelay 合并编辑器短时间内连续触发的多次写事件
const settleDelay = 100 * time.Millisecond

// Watch 先执行一次 fn，之后每当 path 被写入或重新创建时再次执行，直到 ctx 结束
//
// 监听的是所在目录，以兼容先写临时文件再重命名的编辑器。fn 的错误交给 onErr 处理，不会中断监听。
func Watch(ctx context.Context, path string, fn func(context.Context) error, onErr func(error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", path)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrapf(err, "watch %s", filepath.Dir(abs))
	}

	run := func() {
		if err := fn(ctx); err != nil && onErr != nil {
			onErr(err)
		}
	}
	run()

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			settle = time.After(settleDelay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if onErr != nil {
				onErr(errors.Wrap(err, "watcher"))
			}
		case <-settle:
			settle = nil
			run()
		}
	}
}
