// Command pagestore-bench is an interactive REPL over the storage core: it
// opens (or creates) a page file, wraps it in the read-through cache, and
// drives a single B-tree index through put/get/scan/delete commands typed
// at a readline prompt — the same "talk to the engine directly" shape as
// the teacher's cmd/gojodb_cli, adapted from its HTTP-backed command loop to
// one that calls straight into core/btreeindex instead of an API service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sushant-115/pagestorecore/core/btreeindex"
	"github.com/sushant-115/pagestorecore/core/cache"
	"github.com/sushant-115/pagestorecore/core/dbiface"
	"github.com/sushant-115/pagestorecore/core/pagefile"
	"github.com/sushant-115/pagestorecore/core/pagestore"
	"github.com/sushant-115/pagestorecore/core/undolog"
	"github.com/sushant-115/pagestorecore/pkg/logger"
	"github.com/sushant-115/pagestorecore/pkg/telemetry"
)

// benchTable is the single table id this REPL drives; a real database
// would allocate one per CREATE TABLE.
const benchTable = 1

// replDatabase is the minimal dbiface.Database the REPL's session needs: a
// plain temp directory for undo-log spill files, MV store always off so
// spilling is exercised.
type replDatabase struct {
	tempDir string
}

func (d *replDatabase) MVStoreEnabled() bool { return false }

func (d *replDatabase) TempFileFactory(purpose string) (string, error) {
	return filepath.Join(d.tempDir, purpose+"-"+uuid.NewString()+".tmp"), nil
}

// replSession is the minimal dbiface.Session the REPL needs: one undo log,
// no real locking (LOCK_MODE=OFF so a stale delete is silently tolerated,
// matching an interactive tool's expectations).
type replSession struct {
	context.Context
	id   string
	undo *undolog.Log
}

func (s *replSession) ID() string              { return s.id }
func (s *replSession) LockModeOff() bool       { return true }
func (s *replSession) UndoLog() dbiface.UndoRecorder { return s.undo }

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".pagestore_history"
	}
	return filepath.Join(home, ".pagestore_history")
}

func main() {
	var (
		dataPath       = flag.String("data", "pagestore.db", "path to the page file")
		pageSize       = flag.Int("page-size", 4096, "page size in bytes, used only when creating a new page file")
		cacheBytes     = flag.Int("cache-bytes", cache.DefaultCapacityBytes, "read-through cache budget in bytes; 0 disables caching")
		logLevel       = flag.String("log-level", "info", "log level: debug, info, warn, error")
		logFormat      = flag.String("log-format", "console", "log format: console or json")
		histPath       = flag.String("history", defaultHistoryPath(), "readline history file")
		metricsEnabled = flag.Bool("metrics", false, "expose page store/cache instruments over a Prometheus /metrics endpoint")
		metricsPort    = flag.Int("metrics-port", 9090, "port for the Prometheus /metrics endpoint, when -metrics is set")
	)
	flag.Parse()

	log, err := logger.New(logger.Config{Level: *logLevel, Format: *logFormat, OutputFile: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	tel, shutdownTelemetry, err := telemetry.New(telemetry.Config{
		Enabled:        *metricsEnabled,
		ServiceName:    "pagestore-bench",
		PrometheusPort: *metricsPort,
	})
	if err != nil {
		log.Fatal("failed to start telemetry", zap.Error(err))
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	pageMetrics, err := pagestore.NewMetrics(tel.Meter)
	if err != nil {
		log.Fatal("failed to register page store instruments", zap.Error(err))
	}
	cacheMetrics, err := cache.NewMetrics(tel.Meter)
	if err != nil {
		log.Fatal("failed to register cache instruments", zap.Error(err))
	}

	store, cachedBackend, err := openStore(*dataPath, *pageSize, *cacheBytes, log, pageMetrics, cacheMetrics)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}

	bt, err := btreeindex.Open(store, benchTable, dbiface.Int64Codec{}, 0, nil, time.Now().UnixNano(), log)
	if err != nil {
		log.Fatal("failed to open b-tree index", zap.Error(err))
	}

	db := &replDatabase{tempDir: os.TempDir()}
	sess := &replSession{Context: context.Background(), id: uuid.NewString(), undo: undolog.New(db, dbiface.Int64Codec{}, 1000, log)}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pagestore> ",
		HistoryFile:     *histPath,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		log.Fatal("failed to start readline", zap.Error(err))
	}
	defer func() { _ = rl.Close() }()

	fmt.Printf("pagestore-bench: opened %s (table %d, %d rows)\n", *dataPath, benchTable, bt.RowCount())
	fmt.Println("type 'help' for commands, 'exit' or 'quit' to leave")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil { // io.EOF
			fmt.Println()
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !dispatch(line, bt, sess, cachedBackend, store, log) {
			break
		}
	}

	if err := bt.Close(); err != nil {
		log.Warn("failed to persist row count on close", zap.Error(err))
	}
	if err := store.Flush(); err != nil {
		log.Warn("failed to flush store on exit", zap.Error(err))
	}
}

func openStore(path string, pageSize, cacheBytes int, log *zap.Logger, pageMetrics *pagestore.Metrics, cacheMetrics *cache.Metrics) (*pagestore.Store, *cache.CachedBackend, error) {
	mode := pagefile.ModeOpenOrCreate
	backend, err := pagefile.OpenDiskBackend(path, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("open backend: %w", err)
	}

	var under pagefile.Backend = backend
	var cached *cache.CachedBackend
	if cacheBytes > 0 {
		cached = cache.NewCachedBackend(backend, cacheBytes, log, cacheMetrics)
		under = cached
	}

	pf, err := pagefile.Open(under, pageSize, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("open paged file: %w", err)
	}
	store, err := pagestore.Open(pf, log, pageMetrics)
	if err != nil {
		return nil, nil, fmt.Errorf("open page store: %w", err)
	}
	return store, cached, nil
}

// dispatch runs one REPL command and returns false when the session should
// end.
func dispatch(line string, bt *btreeindex.BTree, sess *replSession, cached *cache.CachedBackend, store *pagestore.Store, log *zap.Logger) bool {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "put":
		if len(args) < 2 {
			fmt.Println("usage: put <key> <value>")
			return true
		}
		key, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Printf("bad key: %v\n", err)
			return true
		}
		value := strings.Join(args[1:], " ")
		row := dbiface.NewRow(key, []dbiface.Value{dbiface.Int64Value(key), dbiface.BytesValue(value)})
		if err := bt.Add(sess, row); err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		fmt.Println("OK")

	case "get":
		if len(args) < 1 {
			fmt.Println("usage: get <key>")
			return true
		}
		key, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Printf("bad key: %v\n", err)
			return true
		}
		rows, err := bt.Find(&key, &key)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		if len(rows) == 0 {
			fmt.Println("not found")
			return true
		}
		printRow(rows[0])

	case "scan":
		if len(args) < 2 {
			fmt.Println("usage: scan <from> <to>")
			return true
		}
		from, err1 := strconv.ParseInt(args[0], 10, 64)
		to, err2 := strconv.ParseInt(args[1], 10, 64)
		if err1 != nil || err2 != nil {
			fmt.Println("bad range bounds")
			return true
		}
		rows, err := bt.Find(&from, &to)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		for _, r := range rows {
			printRow(r)
		}
		fmt.Printf("(%d rows)\n", len(rows))

	case "delete":
		if len(args) < 1 {
			fmt.Println("usage: delete <key>")
			return true
		}
		key, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Printf("bad key: %v\n", err)
			return true
		}
		if err := bt.Remove(sess, dbiface.NewRow(key, nil)); err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		fmt.Println("OK")

	case "stats":
		fmt.Printf("rows=%d cost=%d undo_size=%d\n", bt.RowCount(), bt.GetCost(), sess.undo.Size())
		if cached != nil {
			hits, misses, evictions := cached.Stats()
			fmt.Printf("cache hits=%d misses=%d evictions=%d\n", hits, misses, evictions)
		}

	case "flush":
		if err := bt.Close(); err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		if err := store.Flush(); err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		fmt.Println("OK")

	case "rollback":
		if err := store.Rollback(); err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		fmt.Println("OK (pages since last flush restored)")

	case "truncate":
		if err := bt.Truncate(sess); err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		fmt.Println("OK")

	case "help":
		fmt.Println(`commands:
  put <key> <value>    insert a row (errors if the key exists)
  get <key>             fetch a row by key
  scan <from> <to>      list every row with from <= key <= to
  delete <key>          remove a row by key
  stats                 print row count, cost, undo log size, cache stats
  flush                 persist the row count and flush dirty pages
  rollback              restore pages mutated since the last flush
  truncate              empty the table
  help                  show this message
  exit / quit            leave`)

	case "exit", "quit":
		return false

	default:
		fmt.Printf("unknown command %q, type 'help' for a list\n", cmd)
	}
	return true
}

func printRow(r *dbiface.Row) {
	var value string
	if len(r.Values) > 1 {
		value = string(r.Values[1].(dbiface.BytesValue))
	}
	fmt.Printf("%d\t%s\n", r.Key, value)
}
