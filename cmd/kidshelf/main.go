package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/vnnguyen/kidshelf/internal/importwatch"
	"github.com/vnnguyen/kidshelf/internal/library"
)

const usage = `kidshelf - a personal library of songs, poems and stories

Usage:
  kidshelf [flags] <command> [args]

Commands:
  list              list all items (favorites first)
  show <id>         print one item in full
  add <type> <title> <content>
                    add an item (type: song, poem or story)
  edit <id> [-title t] [-content c]
                    edit an item's title or content
  read <id>         mark an item as read
  fav <id>          toggle an item's favorite flag
  archive <id>      toggle an item's archived flag
  import <file>     import items from a JSON file
  watch             follow server changes and import dropped files
  clear             wipe this device's progress and all content

Flags:
  -api   server base URL (default $KIDSHELF_API or http://127.0.0.1:8080)
  -data  local data directory (default $KIDSHELF_DATA_DIR or ~/.kidshelf)
`

func main() {
	_ = godotenv.Load()

	apiFlag := flag.String("api", "", "server base URL")
	dataFlag := flag.String("data", "", "local data directory")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	apiURL := resolveAPI(*apiFlag)
	dataDir := resolveDataDir(*dataFlag)

	deviceID, err := library.DeviceIdentity(dataDir)
	if err != nil {
		log.Fatalf("device identity: %v", err)
	}
	coordinator, err := library.NewCoordinator(library.CoordinatorOptions{
		Remote:   library.NewHTTPClient(apiURL, nil),
		Cache:    library.NewFileCacheStore(dataDir),
		DeviceID: deviceID,
		Logger:   log.Default(),
	})
	if err != nil {
		log.Fatalf("initialize library: %v", err)
	}
	defer coordinator.Close()

	ctx := context.Background()
	if err := run(ctx, coordinator, apiURL, dataDir, args); err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

func run(ctx context.Context, coordinator *library.Coordinator, apiURL, dataDir string, args []string) error {
	command, rest := args[0], args[1:]
	switch command {
	case "list":
		return cmdList(ctx, coordinator)
	case "show":
		return cmdShow(ctx, coordinator, rest)
	case "add":
		return cmdAdd(ctx, coordinator, rest)
	case "edit":
		return cmdEdit(ctx, coordinator, rest)
	case "read":
		return cmdProgress(ctx, coordinator, rest, coordinator.MarkRead)
	case "fav":
		return cmdProgress(ctx, coordinator, rest, coordinator.ToggleFavorite)
	case "archive":
		return cmdProgress(ctx, coordinator, rest, coordinator.ToggleArchive)
	case "import":
		return cmdImport(ctx, coordinator, rest)
	case "watch":
		return cmdWatch(ctx, coordinator, apiURL, dataDir)
	case "clear":
		return cmdClear(ctx, coordinator)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func cmdList(ctx context.Context, coordinator *library.Coordinator) error {
	items := coordinator.Load(ctx)
	if len(items) == 0 {
		fmt.Println("library is empty")
		return nil
	}
	sortForDisplay(items)
	for _, item := range items {
		marker := " "
		if item.Favorite {
			marker = "*"
		}
		suffix := ""
		if item.Archived {
			suffix = " (archived)"
		}
		fmt.Printf("%s %6d  %-5s  %-30s  read %d%s\n", marker, item.ID, item.Type, item.Title, item.ReadCount, suffix)
	}
	return nil
}

func cmdShow(ctx context.Context, coordinator *library.Coordinator, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	for _, item := range coordinator.Load(ctx) {
		if item.ID == id {
			fmt.Printf("%s (%s)\n\n%s\n", item.Title, item.Type, item.Content)
			return nil
		}
	}
	return fmt.Errorf("no item with id %d", id)
}

func cmdAdd(ctx context.Context, coordinator *library.Coordinator, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: add <type> <title> <content>")
	}
	coordinator.Load(ctx)
	item, err := coordinator.AddItem(ctx, args[1], args[0], args[2])
	if err != nil {
		// The item was kept locally under a temporary id.
		fmt.Printf("saved %q locally; server unavailable: %v\n", item.Title, err)
		return nil
	}
	fmt.Printf("added %q with id %d\n", item.Title, item.ID)
	return nil
}

func cmdEdit(ctx context.Context, coordinator *library.Coordinator, args []string) error {
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	title := fs.String("title", "", "new title")
	content := fs.String("content", "", "new content")
	if len(args) < 1 {
		return fmt.Errorf("usage: edit <id> [-title t] [-content c]")
	}
	id, err := parseID(args[:1])
	if err != nil {
		return err
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	var titlePtr, contentPtr *string
	if *title != "" {
		titlePtr = title
	}
	if *content != "" {
		contentPtr = content
	}
	if titlePtr == nil && contentPtr == nil {
		return fmt.Errorf("nothing to change")
	}
	coordinator.Load(ctx)
	coordinator.UpdateItem(id, titlePtr, contentPtr)
	coordinator.Wait()
	fmt.Printf("updated %d\n", id)
	return nil
}

func cmdProgress(ctx context.Context, coordinator *library.Coordinator, args []string, apply func(int64)) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	coordinator.Load(ctx)
	apply(id)
	coordinator.Wait()
	fmt.Printf("updated %d\n", id)
	return nil
}

func cmdImport(ctx context.Context, coordinator *library.Coordinator, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: import <file>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	coordinator.Load(ctx)
	if err := coordinator.Import(ctx, string(data)); err != nil {
		return err
	}
	coordinator.Wait()
	fmt.Printf("imported %d items\n", len(coordinator.Items()))
	return nil
}

// cmdWatch follows the server's change feed and re-imports any JSON file
// dropped into <data>/imports, until interrupted.
func cmdWatch(ctx context.Context, coordinator *library.Coordinator, apiURL, dataDir string) error {
	coordinator.Load(ctx)

	notifier := library.NewNotifier(apiURL, func() {
		items := coordinator.Load(ctx)
		log.Printf("library changed upstream, now %d items", len(items))
	}, log.Default())

	watcher, err := importwatch.NewWatcher(importwatch.Options{
		Dir:    filepath.Join(dataDir, "imports"),
		Logger: log.Default(),
		Handler: func(path string, data []byte) {
			if err := coordinator.Import(ctx, string(data)); err != nil {
				log.Printf("import %s failed: %v", filepath.Base(path), err)
				return
			}
			log.Printf("imported %s, library has %d items", filepath.Base(path), len(coordinator.Items()))
		},
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log.Printf("watching %s and following %s", filepath.Join(dataDir, "imports"), apiURL)
	notifier.Run(runCtx)
	return nil
}

func cmdClear(ctx context.Context, coordinator *library.Coordinator) error {
	fmt.Print("this wipes the whole library on the server; type yes to continue: ")
	var answer string
	if _, err := fmt.Scanln(&answer); err != nil || strings.ToLower(strings.TrimSpace(answer)) != "yes" {
		fmt.Println("aborted")
		return nil
	}
	return coordinator.Clear(ctx)
}

// sortForDisplay orders favorites first, then by read count descending,
// then by title.
func sortForDisplay(items []library.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Favorite != items[j].Favorite {
			return items[i].Favorite
		}
		if items[i].ReadCount != items[j].ReadCount {
			return items[i].ReadCount > items[j].ReadCount
		}
		return items[i].Title < items[j].Title
	})
}

func parseID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("an item id is required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", args[0])
	}
	return id, nil
}

func resolveAPI(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return strings.TrimSpace(flagValue)
	}
	if env := strings.TrimSpace(os.Getenv("KIDSHELF_API")); env != "" {
		return env
	}
	return "http://127.0.0.1:8080"
}

func resolveDataDir(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return strings.TrimSpace(flagValue)
	}
	if env := strings.TrimSpace(os.Getenv("KIDSHELF_DATA_DIR")); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kidshelf"
	}
	return filepath.Join(home, ".kidshelf")
}
