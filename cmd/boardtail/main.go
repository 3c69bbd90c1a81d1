package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/engine"
	"boardsync/source"
)

func main() {
	var (
		projectFlag = flag.String("project", "", "project to mirror (falls back to the saved project, then PROJECT_ID)")
		boardFlag   = flag.String("board", "sections", "board to mirror: sections or subtasks")
		moveFlag    = flag.String("move", "", "task id to move before exiting")
		ontoFlag    = flag.String("onto", "", "drop target id for -move")
		ontoKind    = flag.String("onto-kind", "task", "drop target kind for -move: task or group")
		followFlag  = flag.Bool("follow", false, "keep polling and rerender on every change")
		stateFlag   = flag.String("state-file", defaultStateFile(), "file remembering the last opened project")
	)
	flag.Parse()

	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	states := &fileStateStore{path: *stateFlag}
	project := selectProject(*projectFlag, states, cfg.ProjectID)
	if project == "" {
		log.Fatal("missing project: pass -project or set PROJECT_ID")
	}

	var kind domain.BoardKind
	switch *boardFlag {
	case "sections":
		kind = domain.BoardSections
	case "subtasks":
		kind = domain.BoardSubtasks
	default:
		log.Fatalf("invalid -board %q: want sections or subtasks", *boardFlag)
	}

	client := source.NewClient(cfg.BaseURL, cfg.Token, nil)
	var src engine.Source
	if kind == domain.BoardSubtasks {
		src = client.SubtaskBoard(project)
	} else {
		src = client.SectionBoard(project)
	}
	if cfg.RedisConn != "" {
		rc := redis.NewClient(redisOptions(cfg.RedisConn))
		defer rc.Close()
		src = source.NewCachedSource(src, rc, project, kind, cfg.CacheTTL)
	}

	logger := log.StandardLogger()
	board := engine.NewBoard(src, engine.Config{Logger: logger})
	defer board.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := board.Load(ctx); err != nil {
		log.Fatalf("load board: %v", err)
	}
	if err := states.SaveLastProject(project); err != nil {
		logger.WithError(err).Warn("could not save last project")
	}

	render(board.Snapshot())

	if *moveFlag != "" {
		over := domain.OverTask
		switch *ontoKind {
		case "task":
		case "group":
			over = domain.OverGroup
		default:
			log.Fatalf("invalid -onto-kind %q: want task or group", *ontoKind)
		}

		board.DragStart(*moveFlag)
		move, ok := board.DragEnd(domain.DragEnd{ActiveID: *moveFlag, OverID: *ontoFlag, OverKind: over})
		if !ok {
			logger.WithFields(log.Fields{
				"task_id": *moveFlag,
				"onto":    *ontoFlag,
			}).Warn("gesture had no effect")
		} else {
			logger.WithFields(log.Fields{
				"task_id":     move.TaskID,
				"to_group_id": move.ToGroupID,
				"to_index":    move.ToIndex,
			}).Info("move queued")
			render(board.Snapshot())
			waitForSettle(ctx, board)
		}
		render(board.Snapshot())
	}

	if *followFlag {
		ch := board.Subscribe()
		defer board.Unsubscribe(ch)

		poller := &engine.Poller{Board: board, Interval: cfg.PollInterval, Logger: logger}
		go poller.Run(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				render(board.Snapshot())
			}
		}
	}
}

// waitForSettle blocks until every queued move has settled or ctx ends.
func waitForSettle(ctx context.Context, board *engine.Board) {
	ch := board.Subscribe()
	defer board.Unsubscribe(ch)
	for board.Pending() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}
	}
}

func render(snap domain.Snapshot) {
	fmt.Printf("project %s (%s board)\n", snap.ProjectID, snap.Kind)
	for _, g := range snap.Groups {
		fmt.Printf("  %s (%d)\n", g.Name, len(g.Tasks))
		for i, task := range g.Tasks {
			fmt.Printf("    %2d. %-12s %s [%s]\n", i+1, task.ID, task.Title, task.Status)
		}
	}
}

// redisOptions parses a redis URL, falling back to the comma-separated
// "host:port,password=...,ssl=true" connection-string form.
func redisOptions(connStr string) *redis.Options {
	opts, err := redis.ParseURL(connStr)
	if err != nil {
		parts := strings.Split(connStr, ",")
		opts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				opts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					opts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	return opts
}
