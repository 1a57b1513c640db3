package pagecache_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hupe1980/pagecache"
	"github.com/hupe1980/pagecache/disk"
	"github.com/hupe1980/pagecache/wal"
)

func Example() {
	dir, err := os.MkdirTemp("", "pagecache")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	dm, err := disk.NewFileManager(filepath.Join(dir, "pages.db"))
	if err != nil {
		panic(err)
	}
	defer dm.Close()

	lm, err := wal.Open(filepath.Join(dir, "pages.wal"))
	if err != nil {
		panic(err)
	}

	pc, err := pagecache.New(4, 64, dm, lm)
	if err != nil {
		panic(err)
	}
	defer pc.Close()

	ctx := context.Background()

	page, err := pc.NewPage(ctx)
	if err != nil {
		panic(err)
	}
	copy(page.Data(), "hello")
	pc.UnpinPage(page.ID(), true)

	if err := pc.FlushAllPages(ctx); err != nil {
		panic(err)
	}

	again, err := pc.FetchPage(ctx, page.ID())
	if err != nil {
		panic(err)
	}
	fmt.Println(string(again.Data()[:5]))
	pc.UnpinPage(again.ID(), false)

	// Output: hello
}
