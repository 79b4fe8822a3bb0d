package fetcher

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cast"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/model"
)

// ErrNoHeader is returned when no row of a sheet looks like a comparable
// sales header.
var ErrNoHeader = eris.New("comps: header row not found")

// ErrUnsupportedFormat is returned for files that are not CSV, XLSX, JSON or
// a zip of one of those.
var ErrUnsupportedFormat = eris.New("comps: unsupported file format")

// Field is a comparable sale attribute a sheet column can map to.
type Field string

// Mappable fields.
const (
	FieldName        Field = "name"
	FieldAssetType   Field = "asset_type"
	FieldCity        Field = "city"
	FieldState       Field = "state"
	FieldSaleDate    Field = "sale_date"
	FieldPrice       Field = "price"
	FieldBeds        Field = "beds"
	FieldPricePerBed Field = "price_per_bed"
	FieldCapRate     Field = "cap_rate"
	FieldYearBuilt   Field = "year_built"
	FieldSquareFeet  Field = "square_feet"
	FieldDistance    Field = "distance_miles"
	FieldStarRating  Field = "star_rating"
)

// DefaultAliases are the header spellings seen on broker sheets, compared
// after normalization (lower case, punctuation folded to spaces).
var DefaultAliases = map[Field][]string{
	FieldName:        {"name", "property", "property name", "facility", "facility name", "community"},
	FieldAssetType:   {"asset type", "type", "property type", "asset class", "product type"},
	FieldCity:        {"city", "market"},
	FieldState:       {"state", "st"},
	FieldSaleDate:    {"sale date", "date", "closing date", "close date", "date sold", "sold"},
	FieldPrice:       {"price", "sale price", "purchase price", "consideration", "total price"},
	FieldBeds:        {"beds", "units", "bed count", "licensed beds", "units beds"},
	FieldPricePerBed: {"price per bed", "price bed", "price per unit", "price unit", "ppb", "per bed"},
	FieldCapRate:     {"cap rate", "cap", "going in cap", "cap rate pct"},
	FieldYearBuilt:   {"year built", "built", "yr built", "vintage"},
	FieldSquareFeet:  {"square feet", "sf", "sq ft", "gba", "building sf"},
	FieldDistance:    {"distance", "distance mi", "miles", "distance miles"},
	FieldStarRating:  {"star rating", "stars", "cms rating", "overall rating", "cms stars"},
}

// headerScanRows bounds how far down a sheet the header is searched for.
const headerScanRows = 15

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeHeader(s string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(s), " "))
}

// CompOptions configures a comparable sales import.
type CompOptions struct {
	// DefaultAssetType applies to rows without an asset type column or value.
	DefaultAssetType model.AssetType
	// Aliases adds header spellings to DefaultAliases.
	Aliases map[Field][]string
	// Source labels the file in row IDs so re-imports of the same sheet
	// upsert instead of duplicating.
	Source string
	// Sheet selects an XLSX worksheet by name.
	Sheet string
}

// RowError is a skipped row. Row is 1-based as shown in a spreadsheet.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// CompImport is the result of reading one sheet.
type CompImport struct {
	Comparables []model.ComparableSale `json:"comparables"`
	Skipped     []RowError             `json:"skipped,omitempty"`
	Mapping     map[Field]string       `json:"mapping,omitempty"`
}

// columnMap maps each recognised field to its column index.
type columnMap map[Field]int

func (o CompOptions) lookup() map[string]Field {
	out := make(map[string]Field)
	add := func(aliases map[Field][]string) {
		for f, names := range aliases {
			for _, n := range names {
				out[normalizeHeader(n)] = f
			}
		}
	}
	add(DefaultAliases)
	add(o.Aliases)
	return out
}

// findHeader returns the index of the first row naming at least three
// fields including a price column.
func findHeader(rows [][]string, lookup map[string]Field) (int, columnMap, error) {
	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		cols := make(columnMap)
		for j, cell := range rows[i] {
			if f, ok := lookup[normalizeHeader(cell)]; ok {
				if _, dup := cols[f]; !dup {
					cols[f] = j
				}
			}
		}
		_, hasPrice := cols[FieldPrice]
		_, hasPPB := cols[FieldPricePerBed]
		if len(cols) >= 3 && (hasPrice || hasPPB) {
			return i, cols, nil
		}
	}
	return 0, nil, ErrNoHeader
}

// ParseComparables maps sheet rows to comparable sales. Rows above the
// header are ignored; rows that cannot be read are reported in Skipped.
func ParseComparables(rows [][]string, opts CompOptions) (*CompImport, error) {
	headerIdx, cols, err := findHeader(rows, opts.lookup())
	if err != nil {
		return nil, err
	}

	out := &CompImport{Comparables: []model.ComparableSale{}, Mapping: make(map[Field]string)}
	for f, j := range cols {
		out.Mapping[f] = rows[headerIdx][j]
	}

	for i := headerIdx + 1; i < len(rows); i++ {
		row := rows[i]
		if blank(row) {
			continue
		}
		sale, err := parseRow(row, cols, opts)
		if err != nil {
			out.Skipped = append(out.Skipped, RowError{Row: i + 1, Reason: err.Error()})
			continue
		}
		out.Comparables = append(out.Comparables, sale)
	}
	return out, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseRow(row []string, cols columnMap, opts CompOptions) (model.ComparableSale, error) {
	get := func(f Field) string {
		j, ok := cols[f]
		if !ok || j >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[j])
	}

	var (
		s   model.ComparableSale
		err error
	)
	s.Name = get(FieldName)
	s.City = get(FieldCity)
	s.State = strings.ToUpper(get(FieldState))

	if s.AssetType, err = parseAssetType(get(FieldAssetType), opts.DefaultAssetType); err != nil {
		return s, err
	}
	if s.Price, err = parseMoney(get(FieldPrice)); err != nil {
		return s, eris.Wrap(err, "price")
	}
	if s.PricePerBed, err = parseMoney(get(FieldPricePerBed)); err != nil {
		return s, eris.Wrap(err, "price per bed")
	}
	beds, err := parseNumber(get(FieldBeds))
	if err != nil {
		return s, eris.Wrap(err, "beds")
	}
	s.Beds = int(math.Round(beds))

	switch {
	case s.Beds <= 0:
		return s, eris.New("beds missing")
	case s.Price <= 0 && s.PricePerBed <= 0:
		return s, eris.New("price missing")
	case s.Price <= 0:
		s.Price = s.PricePerBed * float64(s.Beds)
	case s.PricePerBed <= 0:
		s.PricePerBed = s.Price / float64(s.Beds)
	}

	if s.SaleDate, err = parseDate(get(FieldSaleDate)); err != nil {
		return s, eris.Wrap(err, "sale date")
	}
	if s.CapRate, err = parseRate(get(FieldCapRate)); err != nil {
		return s, eris.Wrap(err, "cap rate")
	}
	if v, err := parseNumber(get(FieldYearBuilt)); err == nil {
		s.YearBuilt = int(v)
	}
	if v, err := parseNumber(get(FieldSquareFeet)); err == nil {
		s.SquareFeet = v
	}
	if v, err := parseNumber(get(FieldDistance)); err == nil {
		s.DistanceMiles = v
	}
	if v, err := parseNumber(get(FieldStarRating)); err == nil && v >= 1 && v <= 5 {
		s.StarRating = int(math.Round(v))
	}

	s.ID = compID(opts.Source, s)
	return s, nil
}

// compID is stable for the same source and sale so re-imports upsert.
func compID(source string, s model.ComparableSale) string {
	key := strings.Join([]string{
		source, strings.ToLower(s.Name), s.State, s.SaleDate.Format("2006-01-02"),
		strconv.FormatFloat(s.Price, 'f', 0, 64), strconv.Itoa(s.Beds),
	}, "|")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

func parseAssetType(v string, def model.AssetType) (model.AssetType, error) {
	n := normalizeHeader(v)
	if n == "" {
		if def == "" {
			return "", eris.New("asset type missing")
		}
		return def, nil
	}
	for _, tok := range strings.Fields(n) {
		switch tok {
		case "snf", "skilled", "nursing":
			return model.AssetSNF, nil
		case "alf", "al", "mc", "assisted", "memory":
			return model.AssetALF, nil
		case "ilf", "il", "independent":
			return model.AssetILF, nil
		}
	}
	return "", eris.Errorf("unknown asset type %q", v)
}

// parseNumber accepts thousands separators and blank values (zero).
func parseNumber(v string) (float64, error) {
	v = strings.ReplaceAll(strings.TrimSpace(v), ",", "")
	if v == "" || v == "-" {
		return 0, nil
	}
	return cast.ToFloat64E(v)
}

// parseMoney accepts "$12,500,000", "12.5M", "850K" and "(1,000)".
func parseMoney(v string) (float64, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	neg := strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")")
	v = strings.Trim(v, "()$ ")
	v = strings.TrimPrefix(v, "$")

	mult := 1.0
	switch {
	case strings.HasSuffix(v, "MM"):
		mult, v = 1e6, strings.TrimSuffix(v, "MM")
	case strings.HasSuffix(v, "M"):
		mult, v = 1e6, strings.TrimSuffix(v, "M")
	case strings.HasSuffix(v, "K"):
		mult, v = 1e3, strings.TrimSuffix(v, "K")
	}
	n, err := parseNumber(v)
	if err != nil {
		return 0, err
	}
	if neg {
		n = -n
	}
	return n * mult, nil
}

// parseRate returns a decimal. Values written as percentages ("8.5%" or
// 8.5) are divided by 100.
func parseRate(v string) (float64, error) {
	v = strings.TrimSpace(v)
	pct := strings.HasSuffix(v, "%")
	n, err := parseNumber(strings.TrimSuffix(v, "%"))
	if err != nil {
		return 0, err
	}
	if pct || n > 1 {
		n /= 100
	}
	return n, nil
}

var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"01-02-06",
	"2006-01",
	"Jan 2006",
	"January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006",
}

// parseDate accepts common written layouts and Excel serial day numbers.
func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	if serial, err := strconv.ParseFloat(v, 64); err == nil && serial > 3000 && serial < 100000 {
		return xlsx.TimeFromExcelTime(math.Floor(serial), false).UTC().Round(24 * time.Hour), nil
	}
	return time.Time{}, eris.Errorf("unrecognised date %q", v)
}

// ReadComparables reads a comparable sales file by extension. JSON files
// hold an array of sales and skip header mapping; zip files are searched for
// the first supported sheet.
func ReadComparables(ctx context.Context, path string, opts CompOptions) (*CompImport, error) {
	if opts.Source == "" {
		opts.Source = filepath.Base(path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx":
		rows, err := ReadXLSX(path, XLSXOptions{SheetName: opts.Sheet})
		if err != nil {
			return nil, err
		}
		return parsedSheet(rows, path, opts)
	case ".csv", ".txt", ".tsv", ".json", ".zip":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "comps: open")
		}
		return ReadComparablesBytes(ctx, path, data, opts)
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "%q", ext)
	}
}

// sheetExts are the archive members ReadComparablesBytes will open.
var sheetExts = []string{".csv", ".txt", ".tsv", ".xlsx", ".json"}

// ReadComparablesBytes reads an uploaded comparable sales file. name
// selects the reader by extension as in ReadComparables.
func ReadComparablesBytes(ctx context.Context, name string, data []byte, opts CompOptions) (*CompImport, error) {
	if opts.Source == "" {
		opts.Source = filepath.Base(name)
	}

	var rows [][]string
	var err error
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv", ".txt", ".tsv":
		rows, err = ReadCSV(ctx, bytes.NewReader(data), CSVOptions{
			DetectDelimiter: true,
			LazyQuotes:      true,
			TrimSpace:       true,
			Windows1252:     !utf8.Valid(data),
		})
	case ".xlsx":
		rows, err = ReadXLSXBytes(data, XLSXOptions{SheetName: opts.Sheet})
	case ".json":
		return comparablesFromJSON(ctx, data, opts)
	case ".zip":
		m, merr := FirstMember(data, sheetExts...)
		if merr != nil {
			return nil, eris.Wrapf(merr, "comps: %s", filepath.Base(name))
		}
		zap.L().Debug("comps: reading sheet from archive",
			zap.String("archive", filepath.Base(name)),
			zap.String("sheet", m.Name),
		)
		return ReadComparablesBytes(ctx, m.Name, m.Data, opts)
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "%q", ext)
	}
	if err != nil {
		return nil, err
	}
	return parsedSheet(rows, name, opts)
}

func parsedSheet(rows [][]string, name string, opts CompOptions) (*CompImport, error) {
	res, err := ParseComparables(rows, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "comps: %s", filepath.Base(name))
	}
	zap.L().Info("comps: parsed sheet",
		zap.String("file", filepath.Base(name)),
		zap.Int("comparables", len(res.Comparables)),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

func comparablesFromJSON(ctx context.Context, data []byte, opts CompOptions) (*CompImport, error) {
	sales, err := ReadJSONArray[model.ComparableSale](ctx, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	out := &CompImport{Comparables: []model.ComparableSale{}}
	for i, s := range sales {
		if s.AssetType == "" {
			s.AssetType = opts.DefaultAssetType
		}
		if s.PricePerBed <= 0 && s.Beds > 0 {
			s.PricePerBed = s.Price / float64(s.Beds)
		}
		switch {
		case !s.AssetType.Valid():
			out.Skipped = append(out.Skipped, RowError{Row: i + 1, Reason: "asset type missing"})
			continue
		case s.Beds <= 0 || s.Price <= 0:
			out.Skipped = append(out.Skipped, RowError{Row: i + 1, Reason: "beds or price missing"})
			continue
		}
		if s.ID == "" {
			s.ID = compID(opts.Source, s)
		}
		out.Comparables = append(out.Comparables, s)
	}
	return out, nil
}

// DownloadComparables fetches a remote sheet to a temporary file and reads
// it. The file name is taken from the URL path so the extension selects the
// reader.
func DownloadComparables(ctx context.Context, f Fetcher, rawURL string, opts CompOptions) (*CompImport, error) {
	dir, err := os.MkdirTemp("", "comps-*")
	if err != nil {
		return nil, eris.Wrap(err, "comps: temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	name := filepath.Base(strings.SplitN(rawURL, "?", 2)[0])
	if name == "" || name == "." || name == "/" {
		name = "comps.csv"
	}
	dest := filepath.Join(dir, name)
	if _, err := f.DownloadToFile(ctx, rawURL, dest); err != nil {
		return nil, eris.Wrap(err, "comps: download")
	}
	if opts.Source == "" {
		opts.Source = rawURL
	}
	return ReadComparables(ctx, dest, opts)
}
