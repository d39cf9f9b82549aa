package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
)

// SubmissionSheetName is the worksheet holding one row per submission.
const SubmissionSheetName = "Обращения"

const submissionTimeLayout = "2006-01-02 15:04:05"

var (
	submissionHeaders = []any{
		"Дата и время",
		"Telegram ID",
		"ФИО",
		"Модуль",
		"Тип обращения",
		"Категория ошибки",
		"Описание",
	}
	submissionColumnWidths = []float64{20, 14, 25, 22, 20, 30, 60}
)

// ErrNoSubmissions is returned by Export before the first submission.
var ErrNoSubmissions = errors.New("no submissions recorded")

// SubmissionCounts summarizes the submission log.
type SubmissionCounts struct {
	Total       int
	Errors      int
	Suggestions int
}

// SubmissionRepository is the append-only log of raw submissions.
type SubmissionRepository interface {
	Append(ctx context.Context, submission domain.Submission) error
	Counts(ctx context.Context) (SubmissionCounts, error)
	Export(ctx context.Context, w io.Writer) error
}

type sheetSubmissionRepository struct {
	path string
	mu   sync.Mutex
}

// NewSheetSubmissionRepository keeps submissions in an .xlsx workbook at path.
func NewSheetSubmissionRepository(path string) (SubmissionRepository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("submission workbook path is required")
	}
	return &sheetSubmissionRepository{path: path}, nil
}

func (r *sheetSubmissionRepository) Append(ctx context.Context, submission domain.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.open(true)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := f.GetRows(SubmissionSheetName)
	if err != nil {
		return fmt.Errorf("read submissions: %w", err)
	}
	cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
	if err != nil {
		return err
	}
	row := []any{
		submission.SubmittedAt.Format(submissionTimeLayout),
		submission.UserID,
		submission.Name,
		submission.Module,
		submission.Type.Label(),
		submission.Category,
		submission.Description,
	}
	if err := f.SetSheetRow(SubmissionSheetName, cell, &row); err != nil {
		return fmt.Errorf("append submission: %w", err)
	}
	return r.save(f)
}

func (r *sheetSubmissionRepository) Counts(ctx context.Context) (SubmissionCounts, error) {
	if err := ctx.Err(); err != nil {
		return SubmissionCounts{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.open(false)
	if errors.Is(err, ErrNoSubmissions) {
		return SubmissionCounts{}, nil
	}
	if err != nil {
		return SubmissionCounts{}, err
	}
	defer f.Close()

	rows, err := f.GetRows(SubmissionSheetName)
	if err != nil {
		return SubmissionCounts{}, fmt.Errorf("read submissions: %w", err)
	}

	var counts SubmissionCounts
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		counts.Total++
		if len(row) < 5 {
			continue
		}
		switch row[4] {
		case domain.TicketTypeError.Label():
			counts.Errors++
		case domain.TicketTypeSuggestion.Label():
			counts.Suggestions++
		}
	}
	return counts, nil
}

func (r *sheetSubmissionRepository) Export(ctx context.Context, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNoSubmissions
		}
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// open returns the workbook, creating it with the header row when create is
// set and the file does not exist yet.
func (r *sheetSubmissionRepository) open(create bool) (*excelize.File, error) {
	f, err := excelize.OpenFile(r.path)
	if err == nil {
		if idx, _ := f.GetSheetIndex(SubmissionSheetName); idx < 0 {
			f.Close()
			return nil, fmt.Errorf("workbook %s has no %q sheet", r.path, SubmissionSheetName)
		}
		return f, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open submissions: %w", err)
	}
	if !create {
		return nil, ErrNoSubmissions
	}

	f = excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SubmissionSheetName); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetSheetRow(SubmissionSheetName, "A1", &submissionHeaders); err != nil {
		f.Close()
		return nil, err
	}
	for i, width := range submissionColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetColWidth(SubmissionSheetName, col, col, width); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (r *sheetSubmissionRepository) save(f *excelize.File) error {
	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("encode submissions: %w", err)
	}
	if err := writeFileAtomic(r.path, buf.Bytes()); err != nil {
		return fmt.Errorf("persist submissions: %w", err)
	}
	return nil
}
