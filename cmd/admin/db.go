package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type dbQuery struct {
	Limit     int
	RequestID string
	EntityID  int64
	Code      string
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	workerID := fs.String("worker", "", "worker id (reads that worker's index; default: runtime index)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	requestID := fs.String("request", "", "request_id filter (commands)")
	entityID := fs.Int64("entity", 0, "entity_id filter (commands, updates)")
	code := fs.String("code", "", "error code filter (commands; OK for successes)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if *workerID != "" {
			path = filepath.Join(*dataDir, "workers", *workerID, "index", "worker.sqlite")
		} else {
			path = filepath.Join(*dataDir, "runtime", "index", "runtime.sqlite")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(db, os.Stdout, q, dbQuery{Limit: *limit, RequestID: *requestID, EntityID: *entityID, Code: *code}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runQuery(db *sql.DB, w io.Writer, q string, opt dbQuery) error {
	if opt.Limit <= 0 {
		opt.Limit = 20
	}
	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT seq,path,seed,entities,planets,owned,recorded_at FROM snapshots ORDER BY seq DESC LIMIT ?`, opt.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq        uint64 `json:"seq"`
				Path       string `json:"path"`
				Seed       int64  `json:"seed"`
				Entities   int    `json:"entities"`
				Planets    int    `json:"planets"`
				Owned      int    `json:"owned"`
				RecordedAt string `json:"recorded_at"`
			}
			if err := rows.Scan(&r.Seq, &r.Path, &r.Seed, &r.Entities, &r.Planets, &r.Owned, &r.RecordedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "runs":
		rows, err := db.Query(`SELECT run_id,role,node_id,started_at FROM runs ORDER BY started_at DESC LIMIT ?`, opt.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID     string `json:"run_id"`
				Role      string `json:"role"`
				NodeID    string `json:"node_id"`
				StartedAt string `json:"started_at"`
			}
			if err := rows.Scan(&r.RunID, &r.Role, &r.NodeID, &r.StartedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "frames":
		rows, err := db.Query(`SELECT run_id,frame,worker_id,digest,ops,updates FROM frames ORDER BY rowid DESC LIMIT ?`, opt.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID    string `json:"run_id"`
				Frame    uint64 `json:"frame"`
				WorkerID string `json:"worker_id"`
				Digest   string `json:"digest"`
				Ops      int    `json:"ops"`
				Updates  int    `json:"updates"`
			}
			if err := rows.Scan(&r.RunID, &r.Frame, &r.WorkerID, &r.Digest, &r.Ops, &r.Updates); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "commands":
		where := []string{"1=1"}
		var args []any
		if opt.RequestID != "" {
			where = append(where, "request_id=?")
			args = append(args, opt.RequestID)
		}
		if opt.EntityID != 0 {
			where = append(where, "entity_id=?")
			args = append(args, opt.EntityID)
		}
		switch opt.Code {
		case "":
		case "OK":
			where = append(where, "code=''")
		default:
			where = append(where, "code=?")
			args = append(args, opt.Code)
		}
		args = append(args, opt.Limit)
		rows, err := db.Query(`SELECT run_id,frame,request_id,command,entity_id,code,message FROM commands WHERE `+
			strings.Join(where, " AND ")+` ORDER BY rowid DESC LIMIT ?`, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID     string `json:"run_id"`
				Frame     uint64 `json:"frame"`
				RequestID string `json:"request_id"`
				Command   string `json:"command"`
				EntityID  int64  `json:"entity_id"`
				Code      string `json:"code,omitempty"`
				Message   string `json:"message,omitempty"`
			}
			if err := rows.Scan(&r.RunID, &r.Frame, &r.RequestID, &r.Command, &r.EntityID, &r.Code, &r.Message); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "updates":
		if opt.EntityID == 0 {
			return fmt.Errorf("updates: -entity is required")
		}
		rows, err := db.Query(`SELECT run_id,frame,seq,update_json FROM updates WHERE entity_id=? ORDER BY rowid DESC LIMIT ?`, opt.EntityID, opt.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID  string `json:"run_id"`
				Frame  uint64 `json:"frame"`
				Seq    int    `json:"seq"`
				Update string `json:"update"`
			}
			if err := rows.Scan(&r.RunID, &r.Frame, &r.Seq, &r.Update); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "tuning":
		var digest, body string
		if err := db.QueryRow(`SELECT value FROM meta WHERE key='tuning_digest'`).Scan(&digest); err != nil {
			return fmt.Errorf("tuning digest: %w", err)
		}
		if err := db.QueryRow(`SELECT value FROM meta WHERE key='tuning_json'`).Scan(&body); err != nil {
			return fmt.Errorf("tuning json: %w", err)
		}
		fmt.Fprintf(w, "{\"digest\":%q,\"tuning\":%s}\n", digest, body)
		return nil
	}
	return fmt.Errorf("unknown query %q (want snapshots, runs, frames, commands, updates, tuning)", q)
}
