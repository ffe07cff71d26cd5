package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lumenforge/visioncheck/internal/fsutil"
	"github.com/lumenforge/visioncheck/internal/imageops"
	"github.com/lumenforge/visioncheck/internal/program"
	"github.com/lumenforge/visioncheck/internal/security"
	"github.com/lumenforge/visioncheck/internal/timeutil"
)

// masterPNGCompression is the compression level used when writing canonical
// master images: low, favoring write speed over file size (see §6).
const masterPNGCompression = 1

// ValidationError indicates a program.Config failed §3 invariant checks and
// was rejected at the store boundary without any state change.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("validation: %v", e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

// PersistenceError indicates a write to the database or filesystem failed.
// Any partial state (e.g. a written master file) is rolled back before this is returned.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence: %v", e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// ProgramStore persists Program records and their master images.
type ProgramStore struct {
	db        *DB
	fs        fsutil.FileSystem
	clock     timeutil.Clock
	masterDir string
}

// NewProgramStore returns a store writing master images under masterDir.
func NewProgramStore(db *DB, fs fsutil.FileSystem, clock timeutil.Clock, masterDir string) *ProgramStore {
	return &ProgramStore{db: db, fs: fs, clock: clock, masterDir: masterDir}
}

// Create validates cfg, decodes and re-encodes masterBytes to a canonical
// lossless PNG, writes it under masterDir, and persists the program.
func (s *ProgramStore) Create(cfg program.Config, masterBytes []byte) (*program.Program, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ValidationError{Err: err}
	}

	frame, err := imageops.DecodeFrame(masterBytes)
	if err != nil {
		return nil, &ValidationError{Err: fmt.Errorf("decode master image: %w", err)}
	}
	defer frame.Close()

	if err := cfg.ValidateROIs(frame.Width, frame.Height); err != nil {
		return nil, &ValidationError{Err: err}
	}

	id := uuid.New().String()
	now := s.clock.Now()
	masterPath, err := s.writeMaster(id, now.Format("20060102_150405"), frame)
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}

	row, err := toRow(id, cfg, masterPath, frame.Width, frame.Height, now, now)
	if err != nil {
		s.fs.Remove(masterPath)
		return nil, &PersistenceError{Err: err}
	}

	if err := s.insert(row); err != nil {
		s.fs.Remove(masterPath)
		return nil, &PersistenceError{Err: err}
	}

	return rowToProgram(row)
}

func (s *ProgramStore) writeMaster(id, timestamp string, frame *imageops.Frame) (string, error) {
	filename := fmt.Sprintf("program_%s_%s.png", id, timestamp)
	path := filepath.Join(s.masterDir, filename)
	if err := security.ValidatePathWithinDirectory(path, s.masterDir); err != nil {
		return "", fmt.Errorf("master path: %w", err)
	}
	buf, err := imageops.EncodePNG(frame, masterPNGCompression)
	if err != nil {
		return "", fmt.Errorf("encode master: %w", err)
	}
	if err := s.fs.MkdirAll(s.masterDir, 0o755); err != nil {
		return "", fmt.Errorf("create master dir: %w", err)
	}
	if err := s.fs.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("write master: %w", err)
	}
	return path, nil
}

// Get retrieves a program by id.
func (s *ProgramStore) Get(id string) (*program.Program, error) {
	row, err := s.selectByID(id)
	if err != nil {
		return nil, err
	}
	return rowToProgram(row)
}

// List returns every persisted program, ordered by name.
func (s *ProgramStore) List() ([]*program.Program, error) {
	rows, err := s.db.Query(`SELECT id, name, trigger_json, capture_json, tools_json, outputs_json,
		master_path, width, height, created_at, updated_at FROM programs ORDER BY name`)
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}
	defer rows.Close()

	var out []*program.Program
	for rows.Next() {
		var r programRow
		if err := scanRow(rows, &r); err != nil {
			return nil, &PersistenceError{Err: err}
		}
		p, err := rowToProgram(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Update revalidates cfg, optionally replaces the master image, and
// overwrites the stored program. A nil masterBytes keeps the existing master.
func (s *ProgramStore) Update(id string, cfg program.Config, masterBytes []byte) (*program.Program, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ValidationError{Err: err}
	}

	existing, err := s.selectByID(id)
	if err != nil {
		return nil, err
	}

	masterPath := existing.MasterPath
	width, height := existing.Width, existing.Height
	var newMasterPath string

	if masterBytes != nil {
		frame, err := imageops.DecodeFrame(masterBytes)
		if err != nil {
			return nil, &ValidationError{Err: fmt.Errorf("decode master image: %w", err)}
		}
		defer frame.Close()
		if err := cfg.ValidateROIs(frame.Width, frame.Height); err != nil {
			return nil, &ValidationError{Err: err}
		}
		now := s.clock.Now()
		newMasterPath, err = s.writeMaster(id, now.Format("20060102_150405"), frame)
		if err != nil {
			return nil, &PersistenceError{Err: err}
		}
		masterPath, width, height = newMasterPath, frame.Width, frame.Height
	} else {
		if err := cfg.ValidateROIs(width, height); err != nil {
			return nil, &ValidationError{Err: err}
		}
	}

	row, err := toRow(id, cfg, masterPath, width, height, existing.CreatedAt, s.clock.Now())
	if err != nil {
		if newMasterPath != "" {
			s.fs.Remove(newMasterPath)
		}
		return nil, &PersistenceError{Err: err}
	}

	if err := s.update(row); err != nil {
		if newMasterPath != "" {
			s.fs.Remove(newMasterPath)
		}
		return nil, &PersistenceError{Err: err}
	}

	if newMasterPath != "" && newMasterPath != existing.MasterPath {
		s.fs.Remove(existing.MasterPath)
	}

	return rowToProgram(row)
}

// Delete removes a program and its master image file.
func (s *ProgramStore) Delete(id string) error {
	row, err := s.selectByID(id)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM programs WHERE id = ?`, id); err != nil {
		return &PersistenceError{Err: err}
	}
	s.fs.Remove(row.MasterPath)
	return nil
}

// --- row marshaling ---

type programRow struct {
	ID          string
	Name        string
	TriggerJSON string
	CaptureJSON string
	ToolsJSON   string
	OutputsJSON string
	MasterPath  string
	Width       int
	Height      int
	CreatedAt   int64
	UpdatedAt   int64
}

func toRow(id string, cfg program.Config, masterPath string, width, height int, createdAt, updatedAt interface{ Unix() int64 }) (programRow, error) {
	triggerJSON, err := json.Marshal(cfg.Trigger)
	if err != nil {
		return programRow{}, fmt.Errorf("marshal trigger: %w", err)
	}
	captureJSON, err := json.Marshal(cfg.Capture)
	if err != nil {
		return programRow{}, fmt.Errorf("marshal capture: %w", err)
	}
	toolsJSON, err := json.Marshal(cfg.Tools)
	if err != nil {
		return programRow{}, fmt.Errorf("marshal tools: %w", err)
	}
	outputsJSON, err := json.Marshal(outputsToStringKeys(cfg.Outputs))
	if err != nil {
		return programRow{}, fmt.Errorf("marshal outputs: %w", err)
	}
	return programRow{
		ID:          id,
		Name:        cfg.Name,
		TriggerJSON: string(triggerJSON),
		CaptureJSON: string(captureJSON),
		ToolsJSON:   string(toolsJSON),
		OutputsJSON: string(outputsJSON),
		MasterPath:  masterPath,
		Width:       width,
		Height:      height,
		CreatedAt:   createdAt.Unix(),
		UpdatedAt:   updatedAt.Unix(),
	}, nil
}

func outputsToStringKeys(m map[int]program.OutputAssignment) map[string]program.OutputAssignment {
	out := make(map[string]program.OutputAssignment, len(m))
	for k, v := range m {
		out[strconv.Itoa(k)] = v
	}
	return out
}

func outputsFromStringKeys(m map[string]program.OutputAssignment) (map[int]program.OutputAssignment, error) {
	out := make(map[int]program.OutputAssignment, len(m))
	for k, v := range m {
		i, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid output key %q: %w", k, err)
		}
		out[i] = v
	}
	return out, nil
}

func rowToProgram(r programRow) (*program.Program, error) {
	var cfg program.Config
	cfg.Name = r.Name
	if err := json.Unmarshal([]byte(r.TriggerJSON), &cfg.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if err := json.Unmarshal([]byte(r.CaptureJSON), &cfg.Capture); err != nil {
		return nil, fmt.Errorf("unmarshal capture: %w", err)
	}
	if err := json.Unmarshal([]byte(r.ToolsJSON), &cfg.Tools); err != nil {
		return nil, fmt.Errorf("unmarshal tools: %w", err)
	}
	var outputsStr map[string]program.OutputAssignment
	if err := json.Unmarshal([]byte(r.OutputsJSON), &outputsStr); err != nil {
		return nil, fmt.Errorf("unmarshal outputs: %w", err)
	}
	outputs, err := outputsFromStringKeys(outputsStr)
	if err != nil {
		return nil, err
	}
	cfg.Outputs = outputs

	return &program.Program{
		ID:         r.ID,
		Config:     cfg,
		MasterPath: r.MasterPath,
		Width:      r.Width,
		Height:     r.Height,
		CreatedAt:  unixTime(r.CreatedAt),
		UpdatedAt:  unixTime(r.UpdatedAt),
	}, nil
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func (s *ProgramStore) insert(r programRow) error {
	_, err := s.db.Exec(`INSERT INTO programs
		(id, name, trigger_json, capture_json, tools_json, outputs_json, master_path, width, height, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.TriggerJSON, r.CaptureJSON, r.ToolsJSON, r.OutputsJSON, r.MasterPath, r.Width, r.Height, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *ProgramStore) update(r programRow) error {
	res, err := s.db.Exec(`UPDATE programs SET
		name = ?, trigger_json = ?, capture_json = ?, tools_json = ?, outputs_json = ?,
		master_path = ?, width = ?, height = ?, updated_at = ?
		WHERE id = ?`,
		r.Name, r.TriggerJSON, r.CaptureJSON, r.ToolsJSON, r.OutputsJSON, r.MasterPath, r.Width, r.Height, r.UpdatedAt, r.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("program %s not found", r.ID)
	}
	return nil
}

func (s *ProgramStore) selectByID(id string) (programRow, error) {
	row := s.db.QueryRow(`SELECT id, name, trigger_json, capture_json, tools_json, outputs_json,
		master_path, width, height, created_at, updated_at FROM programs WHERE id = ?`, id)
	var r programRow
	if err := row.Scan(&r.ID, &r.Name, &r.TriggerJSON, &r.CaptureJSON, &r.ToolsJSON, &r.OutputsJSON,
		&r.MasterPath, &r.Width, &r.Height, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return programRow{}, &PersistenceError{Err: fmt.Errorf("program %s not found", id)}
		}
		return programRow{}, &PersistenceError{Err: err}
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRow(rows rowScanner, r *programRow) error {
	return rows.Scan(&r.ID, &r.Name, &r.TriggerJSON, &r.CaptureJSON, &r.ToolsJSON, &r.OutputsJSON,
		&r.MasterPath, &r.Width, &r.Height, &r.CreatedAt, &r.UpdatedAt)
}
