package pipeline

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/quotedesk/internal/config"
	"github.com/hpungsan/quotedesk/internal/errors"
	"github.com/hpungsan/quotedesk/internal/workbook"
)

// Rows below the approval marker, per slot column.
const (
	fingerprintOffset = 1
	overrideOffset    = 2
	subjectOffset     = 3
)

// Approvals is what a human decided on the workbook.
type Approvals struct {
	// Approved maps a fingerprint to its override quote (nil keeps the computed quote).
	Approved map[string]*float64
	Rejected map[string]bool
}

// Gate reads the approval region of every category sheet. A fingerprint marked both
// approved and rejected counts as rejected. An override that does not parse as a
// number leaves its fingerprint undecided so it can be fixed before the next run.
func Gate(wb Workbook, cfg *config.Config, log *zap.Logger) (*Approvals, error) {
	a := &Approvals{
		Approved: make(map[string]*float64),
		Rejected: make(map[string]bool),
	}
	yes := strings.ToLower(cfg.Approval.YesWord)
	no := strings.ToLower(cfg.Approval.NoWord)

	for i := range cfg.Categories {
		cat := &cfg.Categories[i]
		if !wb.HasSheet(cat.Name) {
			log.Warn("category sheet missing", zap.String("sheet", cat.Name))
			continue
		}
		row, err := wb.FindMarkerRow(cat.Name, cfg.Approval.MarkerLabel)
		if err != nil {
			return nil, err
		}
		if row == 0 {
			log.Warn("approval marker missing", zap.String("sheet", cat.Name))
			continue
		}

		start, last, _ := cat.Columns()
		for slot := 0; ; slot++ {
			col, ok, err := workbook.Column(start, slot, last)
			if err != nil {
				return nil, errors.NewConfig(err.Error())
			}
			if !ok {
				break
			}

			fp, err := wb.Read(cat.Name, cell(col, row+fingerprintOffset))
			if err != nil {
				return nil, err
			}
			fp = strings.ToLower(strings.TrimSpace(fp))
			if fp == "" {
				continue
			}
			mark, err := wb.Read(cat.Name, cell(col, row))
			if err != nil {
				return nil, err
			}

			switch strings.ToLower(strings.TrimSpace(mark)) {
			case no:
				a.Rejected[fp] = true
			case yes:
				raw, err := wb.Read(cat.Name, cell(col, row+overrideOffset))
				if err != nil {
					return nil, err
				}
				override, ok := parseOverride(raw)
				if !ok {
					log.Warn("override is not a number; leaving undecided",
						zap.String("sheet", cat.Name), zap.String("column", col), zap.String("value", raw))
					continue
				}
				a.Approved[fp] = override
			}
		}
	}

	for fp := range a.Rejected {
		delete(a.Approved, fp)
	}
	return a, nil
}

func parseOverride(raw string) (*float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, true
	}
	f, err := strconv.ParseFloat(strings.TrimPrefix(s, "*"), 64)
	if err != nil {
		return nil, false
	}
	return &f, true
}

// Fingerprints returns the approved fingerprints.
func (a *Approvals) Fingerprints() []string {
	out := make([]string, 0, len(a.Approved))
	for fp := range a.Approved {
		out = append(out, fp)
	}
	return out
}

func cell(col string, row int) string {
	return col + strconv.Itoa(row)
}
