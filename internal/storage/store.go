package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/san-kum/chemdyn/internal/integrators"
	"github.com/san-kum/chemdyn/internal/trajectory"
)

// ErrNotFound is returned for run ids the store does not know.
var ErrNotFound = errors.New("storage: run not found")

const catalogName = "catalog.db"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id        TEXT PRIMARY KEY,
	network   TEXT NOT NULL,
	engine    TEXT NOT NULL,
	strategy  TEXT NOT NULL,
	systems   INTEGER NOT NULL,
	intervals INTEGER NOT NULL,
	failures  INTEGER NOT NULL,
	status    TEXT NOT NULL,
	created   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_created ON runs(created);
`

// Store keeps one directory per run, each with a metadata.json next to the
// trajectory files, and a SQLite catalog of all runs.
type Store struct {
	baseDir string
	db      *sqlx.DB
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Init creates the base directory and opens the catalog.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return err
	}
	db, err := sqlx.Connect("sqlite", filepath.Join(s.baseDir, catalogName))
	if err != nil {
		return fmt.Errorf("storage: open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("storage: init schema: %w", err)
	}
	s.db = db
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type RunMetadata struct {
	ID                  string             `json:"id"`
	Network             string             `json:"network"`
	Species             []string           `json:"species"`
	Dim                 int                `json:"dim"`
	Engine              string             `json:"engine"`
	Strategy            string             `json:"strategy"`
	RTol                float64            `json:"rtol"`
	ATol                float64            `json:"atol"`
	Systems             int                `json:"systems"`
	Layout              string             `json:"layout"`
	Tag                 string             `json:"tag"`
	TimeUnit            float64            `json:"time_unit"`
	TemperatureFeedback bool               `json:"temperature_feedback"`
	Timestamp           time.Time          `json:"timestamp"`
	Status              string             `json:"status"`
	Error               string             `json:"error,omitempty"`
	Intervals           int                `json:"intervals"`
	Records             int                `json:"records"`
	Failures            int                `json:"failures"`
	Elapsed             float64            `json:"elapsed_sec"`
	Stats               integrators.Stats  `json:"stats"`
	Metrics             map[string]float64 `json:"metrics"`
}

// RunSummary is one catalog row.
type RunSummary struct {
	ID        string `db:"id"`
	Network   string `db:"network"`
	Engine    string `db:"engine"`
	Strategy  string `db:"strategy"`
	Systems   int    `db:"systems"`
	Intervals int    `db:"intervals"`
	Failures  int    `db:"failures"`
	Status    string `db:"status"`
	Created   int64  `db:"created"`
}

func (r RunSummary) CreatedAt() time.Time { return time.Unix(0, r.Created) }

// NewRun reserves a run id and creates its directory.
func (s *Store) NewRun(network string) (id, dir string, err error) {
	id = fmt.Sprintf("%s_%s", network, time.Now().Format("20060102T150405.000000"))
	dir = filepath.Join(s.baseDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", err
	}
	return id, dir, nil
}

// Dir returns the directory of a run.
func (s *Store) Dir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

// Save writes metadata.json for meta.ID and records it in the catalog.
func (s *Store) Save(meta *RunMetadata) error {
	if meta.ID == "" {
		return errors.New("storage: metadata without id")
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	runDir := s.Dir(meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return err
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		metaFile.Close()
		return err
	}
	if err := metaFile.Close(); err != nil {
		return err
	}

	if s.db == nil {
		return nil
	}
	_, err = s.db.NamedExec(`INSERT OR REPLACE INTO runs
		(id, network, engine, strategy, systems, intervals, failures, status, created)
		VALUES (:id, :network, :engine, :strategy, :systems, :intervals, :failures, :status, :created)`,
		RunSummary{
			ID:        meta.ID,
			Network:   meta.Network,
			Engine:    meta.Engine,
			Strategy:  meta.Strategy,
			Systems:   meta.Systems,
			Intervals: meta.Intervals,
			Failures:  meta.Failures,
			Status:    meta.Status,
			Created:   meta.Timestamp.UnixNano(),
		})
	if err != nil {
		return fmt.Errorf("storage: catalog insert: %w", err)
	}
	return nil
}

// List returns the catalog, oldest run first.
func (s *Store) List() ([]RunSummary, error) {
	if s.db == nil {
		return nil, errors.New("storage: catalog not open")
	}
	runs := []RunSummary{}
	if err := s.db.Select(&runs, `SELECT id, network, engine, strategy, systems, intervals, failures, status, created
		FROM runs ORDER BY created, id`); err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(runID), "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadTrajectory decodes the binary trajectory of a run.
func (s *Store) LoadTrajectory(runID string) (*RunMetadata, []trajectory.Record, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, nil, err
	}
	recs, err := trajectory.ReadFile(filepath.Join(s.Dir(runID), trajectory.BinaryName(meta.Tag)), meta.Dim)
	if err != nil {
		return meta, nil, err
	}
	return meta, recs, nil
}
