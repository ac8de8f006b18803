package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	qerrors "github.com/hpungsan/quotedesk/internal/errors"
)

// Quotability policies.
const (
	// QuotabilityDesignatedBlank requires the blank set to be exactly the category's quote field.
	QuotabilityDesignatedBlank = "designated-blank"
	// QuotabilityAnyBlank accepts any message that has the quote field blank.
	QuotabilityAnyBlank = "any-blank"
)

// Dedup policies.
const (
	// DedupFinalized skips a message only when its record has left UNPROCESSED.
	DedupFinalized = "finalized"
	// DedupAnyRecord skips a message whenever a record exists.
	DedupAnyRecord = "any-record"
)

// Config holds application configuration.
type Config struct {
	// SubjectKeyword selects inquiry messages at fetch time
	SubjectKeyword string `json:"subject_keyword"`

	// HoldKeyword routes matching subjects to the hold report instead of quoting
	HoldKeyword string `json:"hold_keyword"`

	// Mailbox is the IMAP folder scanned for inquiries
	Mailbox string `json:"mailbox"`

	// WorkbookPath is the valuation workbook. Relative paths resolve against the base dir.
	WorkbookPath string `json:"workbook_path"`

	// Senders maps a sender domain to a strategy kind (see internal/strategy).
	Senders map[string]string `json:"senders,omitempty"`

	// Categories lists the workbook sheets quotes are computed on.
	// An overlay that sets categories replaces the base list entirely.
	Categories []Category `json:"categories,omitempty"`

	// VolTiers is the tiered volatility table, matched by underlying prefix and tenor.
	VolTiers []VolTier `json:"vol_tiers,omitempty"`

	// RiskFreeRates maps an underlying prefix to a fixed reference rate.
	RiskFreeRates []PrefixRate `json:"risk_free_rates,omitempty"`

	Approval Approval `json:"approval"`

	Reports Reports `json:"reports"`

	// Quotability is the eligibility predicate: "designated-blank" or "any-blank"
	Quotability string `json:"quotability"`

	// Dedup is the duplicate rule: "finalized" or "any-record"
	Dedup string `json:"dedup"`

	// DispatchWidth bounds concurrent sends in the confirm phase
	DispatchWidth int `json:"dispatch_width"`

	// OwnAddresses are removed from the Cc list of replies.
	OwnAddresses []string `json:"own_addresses,omitempty"`

	// ReplyNote is markdown rendered above the quoted original in every reply.
	ReplyNote string `json:"reply_note"`

	// RedirectTo, when set, sends every reply to this address instead of the sender.
	// Intended for dry runs against a live mailbox.
	RedirectTo string `json:"redirect_to,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// Category describes one valuation sheet and the message template it quotes.
type Category struct {
	// Name is both the category id and the workbook sheet name
	Name string `json:"name"`

	// Keywords select this category when any appears in the subject
	Keywords []string `json:"keywords"`

	// QuoteLabel is the table row the reply composer rewrites
	QuoteLabel string `json:"quote_label"`

	// QuoteField is the field expected blank; defaults to QuoteLabel
	QuoteField string `json:"quote_field,omitempty"`

	// QuoteRow is the workbook row holding the computed quote
	QuoteRow int `json:"quote_row"`

	StartColumn    string `json:"start_column,omitempty"`
	LastColumn     string `json:"last_column,omitempty"`
	TemplateColumn string `json:"template_column,omitempty"`

	// UnderlyingLabel names the field carrying the instrument code
	UnderlyingLabel string `json:"underlying_label,omitempty"`

	// AllowedPrefixes restricts quoting to these underlying prefixes (empty = any)
	AllowedPrefixes []string `json:"allowed_prefixes,omitempty"`

	Fields []FieldRule `json:"fields"`

	Derived Derived `json:"derived"`

	Format QuoteFormat `json:"format"`
}

// FieldRule maps a table label onto a workbook row, with an optional value transform.
type FieldRule struct {
	Label     string `json:"label"`
	Row       int    `json:"row"`
	Transform string `json:"transform,omitempty"`
}

// Derived holds the rows of inputs computed from other inputs. A zero row disables that input.
type Derived struct {
	// TradeDateRow holds the date-basis formula rewritten for DateBasisPrefix underlyings
	TradeDateRow    int    `json:"trade_date_row,omitempty"`
	DateBasisPrefix string `json:"date_basis_prefix,omitempty"`

	// TenorRow is read (after writing fields) to pick a volatility tier
	TenorRow int `json:"tenor_row,omitempty"`
	VolRow   int `json:"vol_row,omitempty"`
	RateRow  int `json:"rate_row,omitempty"`
}

// VolTier applies Vol to underlyings with Prefix whose tenor is at most MaxTenor years.
type VolTier struct {
	Prefix   string  `json:"prefix"`
	MaxTenor float64 `json:"max_tenor"`
	Vol      float64 `json:"vol"`
}

// PrefixRate is a fixed reference rate for underlyings starting with Prefix.
type PrefixRate struct {
	Prefix string  `json:"prefix"`
	Rate   float64 `json:"rate"`
}

// QuoteFormat controls how a quote is written into the reply.
type QuoteFormat struct {
	Decimals int    `json:"decimals"`
	Prefix   string `json:"prefix"`
	Percent  bool   `json:"percent,omitempty"`
}

// Approval describes the human-edited confirmation region on each category sheet.
// The marker label sits in column A; slot columns hold the yes/no word on the same row,
// the fingerprint one row below, the override two rows below and the subject three below.
type Approval struct {
	MarkerLabel string `json:"marker_label"`
	YesWord     string `json:"yes_word"`
	NoWord      string `json:"no_word"`
}

// Reports names the report sheets rewritten at the end of every run.
type Reports struct {
	Skipped string `json:"skipped"`
	Hold    string `json:"hold"`
	Quoted  string `json:"quoted"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SubjectKeyword: "Quote Request",
		HoldKeyword:    "hold",
		Mailbox:        "INBOX",
		WorkbookPath:   "valuation.xlsx",
		Categories:     defaultCategories(),
		VolTiers: []VolTier{
			{Prefix: "AU", MaxTenor: 0.25, Vol: 0.18},
			{Prefix: "AU", MaxTenor: 1, Vol: 0.16},
			{Prefix: "AU", MaxTenor: 100, Vol: 0.15},
			{Prefix: "XAU", MaxTenor: 0.25, Vol: 0.17},
			{Prefix: "XAU", MaxTenor: 100, Vol: 0.15},
		},
		RiskFreeRates: []PrefixRate{
			{Prefix: "AU", Rate: 0.015},
			{Prefix: "XAU", Rate: 0.04},
		},
		Approval: Approval{
			MarkerLabel: "Reply with quote? (yes/no)",
			YesWord:     "yes",
			NoWord:      "no",
		},
		Reports: Reports{
			Skipped: "Skipped Today",
			Hold:    "Hold Requests",
			Quoted:  "Quoted Today",
		},
		Quotability:   QuotabilityDesignatedBlank,
		Dedup:         DedupFinalized,
		DispatchWidth: 10,
		ReplyNote:     "Please find our indicative quote in the table below.",
	}
}

func defaultCategories() []Category {
	underlying := FieldRule{Label: "Underlying Contract", Row: 3, Transform: TransformUnderlying}
	return []Category{
		{
			Name:            "Ladder-Call",
			Keywords:        []string{"ladder"},
			QuoteLabel:      "Strike 1 (Low)",
			QuoteRow:        23,
			UnderlyingLabel: underlying.Label,
			AllowedPrefixes: []string{"AU", "XAU"},
			Fields: []FieldRule{
				underlying,
				{Label: "Start Date", Row: 4},
				{Label: "Settlement Date", Row: 5},
				{Label: "Premium (annualized)", Row: 8},
				{Label: "Minimum Yield (annualized)", Row: 9},
				{Label: "Middle Yield (annualized)", Row: 10},
				{Label: "Maximum Yield (annualized)", Row: 11},
				{Label: "Strike 2 (High)", Row: 22, Transform: TransformStripAsterisk},
			},
			Derived: Derived{TradeDateRow: 14, DateBasisPrefix: "AU", TenorRow: 13, VolRow: 12, RateRow: 17},
			Format:  QuoteFormat{Decimals: 3, Prefix: "*"},
		},
		{
			Name:            "Binary-Call",
			Keywords:        []string{"binary"},
			QuoteLabel:      "Strike",
			QuoteRow:        19,
			UnderlyingLabel: underlying.Label,
			AllowedPrefixes: []string{"AU", "XAU"},
			Fields: []FieldRule{
				underlying,
				{Label: "Start Date", Row: 4},
				{Label: "Settlement Date", Row: 5},
				{Label: "Premium (annualized)", Row: 8},
				{Label: "Minimum Yield (annualized)", Row: 9},
				{Label: "Maximum Yield (annualized)", Row: 11},
			},
			Derived: Derived{TradeDateRow: 13, DateBasisPrefix: "AU", TenorRow: 10, VolRow: 11, RateRow: 16},
			Format:  QuoteFormat{Decimals: 3, Prefix: "*"},
		},
	}
}

// Field value transforms understood by the grid strategy.
const (
	// TransformUnderlying takes the code in parentheses, drops dots and uppercases it.
	TransformUnderlying = "underlying"
	// TransformStripAsterisk removes '*' markers.
	TransformStripAsterisk = "strip_asterisk"
	// TransformNumber writes the value as a number (percent signs are divided out).
	TransformNumber = "number"
)

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.quotedesk.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.quotedesk) and desk (.quotedesk) directories.
// The desk config is found by walking upward from startDir.
// Desk config takes precedence for scalar values; arrays are merged (deduplicated).
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .quotedesk/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".quotedesk", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; string arrays are merged and deduplicated;
// categories, tiers and rates are replaced as a whole when the overlay sets them.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.SubjectKeyword = pick(overlay.SubjectKeyword, base.SubjectKeyword)
	result.HoldKeyword = pick(overlay.HoldKeyword, base.HoldKeyword)
	result.Mailbox = pick(overlay.Mailbox, base.Mailbox)
	result.WorkbookPath = pick(overlay.WorkbookPath, base.WorkbookPath)
	result.Quotability = pick(overlay.Quotability, base.Quotability)
	result.Dedup = pick(overlay.Dedup, base.Dedup)
	result.ReplyNote = pick(overlay.ReplyNote, base.ReplyNote)
	result.RedirectTo = pick(overlay.RedirectTo, base.RedirectTo)

	result.Approval = Approval{
		MarkerLabel: pick(overlay.Approval.MarkerLabel, base.Approval.MarkerLabel),
		YesWord:     pick(overlay.Approval.YesWord, base.Approval.YesWord),
		NoWord:      pick(overlay.Approval.NoWord, base.Approval.NoWord),
	}
	result.Reports = Reports{
		Skipped: pick(overlay.Reports.Skipped, base.Reports.Skipped),
		Hold:    pick(overlay.Reports.Hold, base.Reports.Hold),
		Quoted:  pick(overlay.Reports.Quoted, base.Reports.Quoted),
	}

	result.DispatchWidth = overlay.DispatchWidth
	if result.DispatchWidth == 0 {
		result.DispatchWidth = base.DispatchWidth
	}

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	result.Categories = base.Categories
	if len(overlay.Categories) > 0 {
		result.Categories = overlay.Categories
	}
	result.VolTiers = base.VolTiers
	if len(overlay.VolTiers) > 0 {
		result.VolTiers = overlay.VolTiers
	}
	result.RiskFreeRates = base.RiskFreeRates
	if len(overlay.RiskFreeRates) > 0 {
		result.RiskFreeRates = overlay.RiskFreeRates
	}

	// Maps: overlay keys win
	if len(base.Senders)+len(overlay.Senders) > 0 {
		result.Senders = make(map[string]string, len(base.Senders)+len(overlay.Senders))
		for k, v := range base.Senders {
			result.Senders[strings.ToLower(k)] = v
		}
		for k, v := range overlay.Senders {
			result.Senders[strings.ToLower(k)] = v
		}
	}

	result.OwnAddresses = mergeStringSlice(base.OwnAddresses, overlay.OwnAddresses)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pick(overlay, base string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

// Validate checks the configuration for inconsistencies that would make every run fail.
func (c *Config) Validate() error {
	switch c.Quotability {
	case QuotabilityDesignatedBlank, QuotabilityAnyBlank:
	default:
		return qerrors.NewConfig(fmt.Sprintf("unknown quotability policy %q", c.Quotability))
	}
	switch c.Dedup {
	case DedupFinalized, DedupAnyRecord:
	default:
		return qerrors.NewConfig(fmt.Sprintf("unknown dedup policy %q", c.Dedup))
	}
	if c.DispatchWidth < 1 {
		return qerrors.NewConfig("dispatch_width must be at least 1")
	}
	if c.Approval.MarkerLabel == "" || c.Approval.YesWord == "" || c.Approval.NoWord == "" {
		return qerrors.NewConfig("approval marker label and yes/no words are required")
	}

	seen := make(map[string]bool)
	for _, cat := range c.Categories {
		if cat.Name == "" {
			return qerrors.NewConfig("category without a name")
		}
		if seen[cat.Name] {
			return qerrors.NewConfig(fmt.Sprintf("duplicate category %q", cat.Name))
		}
		seen[cat.Name] = true
		if cat.QuoteLabel == "" || cat.QuoteRow < 1 {
			return qerrors.NewConfig(fmt.Sprintf("category %q needs quote_label and quote_row", cat.Name))
		}
		if len(cat.Fields) == 0 {
			return qerrors.NewConfig(fmt.Sprintf("category %q has no field mapping", cat.Name))
		}
	}
	return nil
}

// Category returns the category with the given name.
func (c *Config) Category(name string) (*Category, bool) {
	for i := range c.Categories {
		if c.Categories[i].Name == name {
			return &c.Categories[i], true
		}
	}
	return nil, false
}

// CategoryForSubject returns the first category whose keyword appears in subject (case-insensitive).
func (c *Config) CategoryForSubject(subject string) (*Category, bool) {
	s := strings.ToLower(subject)
	for i := range c.Categories {
		for _, kw := range c.Categories[i].Keywords {
			if kw != "" && strings.Contains(s, strings.ToLower(kw)) {
				return &c.Categories[i], true
			}
		}
	}
	return nil, false
}

// DesignatedField returns the field expected to be blank in an inquiry.
func (cat *Category) DesignatedField() string {
	if cat.QuoteField != "" {
		return cat.QuoteField
	}
	return cat.QuoteLabel
}

// Columns returns the slot start, slot end and template columns with defaults applied.
func (cat *Category) Columns() (start, last, template string) {
	start, last, template = cat.StartColumn, cat.LastColumn, cat.TemplateColumn
	if start == "" {
		start = "C"
	}
	if last == "" {
		last = "Z"
	}
	if template == "" {
		template = "B"
	}
	return start, last, template
}

// Rule returns the field rule for label.
func (cat *Category) Rule(label string) (FieldRule, bool) {
	for _, r := range cat.Fields {
		if r.Label == label {
			return r, true
		}
	}
	return FieldRule{}, false
}
