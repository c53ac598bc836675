package source_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/julianstephens/go-utils/jsonutil"
	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/blockid/internal/blockid/source"
)

func TestInitFile_WritesSequenceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "SEQUENCE.json")
	tst.RequireNoError(t, source.InitFile(path, "invoices", 7))

	var seq source.SequenceFile
	tst.RequireNoError(t, jsonutil.ReadFileStrict(path, &seq))
	tst.RequireDeepEqual(t, seq, source.SequenceFile{Version: 1, Name: "invoices", Next: 7})
}

func TestOpenFile_Validation(t *testing.T) {
	testCases := []struct {
		name        string
		contents    string
		openAs      string
		expectError error
	}{
		{name: "Valid", contents: `{"version":1,"name":"default","next":5}`, openAs: "default"},
		{name: "NameMismatch", contents: `{"version":1,"name":"orders","next":5}`, openAs: "default", expectError: source.ErrNameMismatch},
		{name: "FutureVersion", contents: `{"version":9,"name":"default","next":5}`, openAs: "default", expectError: source.ErrUnsupportedVersion},
		{name: "MissingVersion", contents: `{"name":"default","next":5}`, openAs: "default", expectError: source.ErrCorrupted},
		{name: "NotJSON", contents: `next=5`, openAs: "default", expectError: source.ErrDecode},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "SEQUENCE.json")
			tst.RequireNoError(t, os.WriteFile(path, []byte(tc.contents), 0o600))

			f, err := source.OpenFile(path, tc.openAs, nil)
			if tc.expectError != nil {
				assert.IsError(t, err, tc.expectError)
				return
			}
			tst.RequireNoError(t, err)
			next, err := f.Peek()
			tst.RequireNoError(t, err)
			tst.RequireDeepEqual(t, next, uint64(5))
			tst.RequireNoError(t, f.Close())
		})
	}
}

func TestFile_SharedBetweenHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SEQUENCE.json")
	tst.RequireNoError(t, source.InitFile(path, "default", 1))

	a, err := source.OpenFile(path, "default", nil)
	tst.RequireNoError(t, err)
	defer func() { _ = a.Close() }()
	b, err := source.OpenFile(path, "default", nil)
	tst.RequireNoError(t, err)
	defer func() { _ = b.Close() }()

	var (
		mu   sync.Mutex
		seen = make(map[uint64]bool)
		wg   sync.WaitGroup
	)
	for _, f := range []*source.File{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				hi, err := f.NextBlockStart(context.Background(), 10)
				if err != nil {
					t.Errorf("reserve: %v", err)
					return
				}
				mu.Lock()
				seen[hi] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	tst.RequireDeepEqual(t, len(seen), 40)
	next, err := a.Peek()
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, next, uint64(401))
}

func TestFile_ClosedRejectsCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SEQUENCE.json")
	tst.RequireNoError(t, source.InitFile(path, "default", 1))
	f, err := source.OpenFile(path, "default", nil)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, f.Close())
	tst.RequireNoError(t, f.Close())

	_, err = f.NextBlockStart(context.Background(), 1)
	assert.IsError(t, err, source.ErrClosed)
	_, err = f.Peek()
	assert.IsError(t, err, source.ErrClosed)
}
