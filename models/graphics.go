package models

// Graphics style enums, translated from the short wire codes TradingView
// uses for chart drawings.

type ExtendValue int

const (
	ExtendNone ExtendValue = iota
	ExtendRight
	ExtendLeft
	ExtendBoth
)

type YLocValue int

const (
	YLocPrice YLocValue = iota
	YLocAboveBar
	YLocBelowBar
)

type LabelStyleValue int

const (
	LabelStyleNone LabelStyleValue = iota
	LabelStyleXCross
	LabelStyleCross
	LabelStyleTriangleUp
	LabelStyleTriangleDown
	LabelStyleFlag
	LabelStyleCircle
	LabelStyleArrowUp
	LabelStyleArrowDown
	LabelStyleLabelUp
	LabelStyleLabelDown
	LabelStyleLabelLeft
	LabelStyleLabelRight
	LabelStyleLabelLowerLeft
	LabelStyleLabelLowerRight
	LabelStyleLabelUpperLeft
	LabelStyleLabelUpperRight
	LabelStyleLabelCenter
	LabelStyleSquare
	LabelStyleDiamond
)

type LineStyleValue int

const (
	LineStyleSolid LineStyleValue = iota
	LineStyleDotted
	LineStyleDashed
	LineStyleArrowLeft
	LineStyleArrowRight
	LineStyleArrowBoth
)

type BoxStyleValue int

const (
	BoxStyleSolid BoxStyleValue = iota
	BoxStyleDotted
	BoxStyleDashed
)

// TranslateExtend maps a wire code to an ExtendValue, defaulting to
// ExtendNone for unrecognized codes. Only the first character is
// significant ("r", "right", …).
func TranslateExtend(code string) ExtendValue {
	if code == "" {
		return ExtendNone
	}
	switch code[0] {
	case 'r':
		return ExtendRight
	case 'l':
		return ExtendLeft
	case 'b':
		return ExtendBoth
	default:
		return ExtendNone
	}
}

// TranslateYLoc maps a wire code ("pr", "ab", "bl") to a YLocValue.
func TranslateYLoc(code string) YLocValue {
	switch code {
	case "ab":
		return YLocAboveBar
	case "bl":
		return YLocBelowBar
	default:
		return YLocPrice
	}
}

var labelStyleCodes = map[string]LabelStyleValue{
	"n":     LabelStyleNone,
	"xcr":   LabelStyleXCross,
	"cr":    LabelStyleCross,
	"tup":   LabelStyleTriangleUp,
	"tdn":   LabelStyleTriangleDown,
	"flg":   LabelStyleFlag,
	"cir":   LabelStyleCircle,
	"aup":   LabelStyleArrowUp,
	"adn":   LabelStyleArrowDown,
	"lup":   LabelStyleLabelUp,
	"ldn":   LabelStyleLabelDown,
	"llf":   LabelStyleLabelLeft,
	"lrg":   LabelStyleLabelRight,
	"llwlf": LabelStyleLabelLowerLeft,
	"llwrg": LabelStyleLabelLowerRight,
	"luplf": LabelStyleLabelUpperLeft,
	"luprg": LabelStyleLabelUpperRight,
	"lcn":   LabelStyleLabelCenter,
	"sq":    LabelStyleSquare,
	"dia":   LabelStyleDiamond,
}

// TranslateLabelStyle maps a wire code to a LabelStyleValue.
func TranslateLabelStyle(code string) LabelStyleValue {
	if v, ok := labelStyleCodes[code]; ok {
		return v
	}
	return LabelStyleNone
}

// TranslateLineStyle maps a wire code to a LineStyleValue.
func TranslateLineStyle(code string) LineStyleValue {
	switch code {
	case "sol":
		return LineStyleSolid
	case "dot":
		return LineStyleDotted
	case "dsh":
		return LineStyleDashed
	case "al":
		return LineStyleArrowLeft
	case "ar":
		return LineStyleArrowRight
	case "ab":
		return LineStyleArrowBoth
	default:
		return LineStyleSolid
	}
}

// TranslateBoxStyle maps a wire code to a BoxStyleValue.
func TranslateBoxStyle(code string) BoxStyleValue {
	switch code {
	case "dot":
		return BoxStyleDotted
	case "dsh":
		return BoxStyleDashed
	default:
		return BoxStyleSolid
	}
}

// GraphicLabel is one plotted label.
type GraphicLabel struct {
	Index     int
	Price     float64
	Text      string
	YLoc      YLocValue
	Style     LabelStyleValue
	Color     string
	TextColor string
	Size      float64
	TextAlign string
	ToolTip   string
}

// GraphicLine is one plotted line segment.
type GraphicLine struct {
	Index1, Index2 int
	Price1, Price2 float64
	Extend         ExtendValue
	Style          LineStyleValue
	Color          string
	Width          int
}

// GraphicBox is one plotted rectangle.
type GraphicBox struct {
	Index1, Index2  int
	Price1, Price2  float64
	Extend          ExtendValue
	Style           BoxStyleValue
	Color           string
	BackgroundColor string
	Width           int
	Text            string
	TextColor       string
}

// GraphicTableCell is one cell of a plotted table.
type GraphicTableCell struct {
	ID              string
	Text            string
	Width, Height   float64
	TextColor       string
	TextHAlign      string
	TextVAlign      string
	TextSize        float64
	BackgroundColor string
}

// GraphicTable is one plotted table; cells arrive both inline and as
// standalone dwgtablecells entries referencing their table by id.
type GraphicTable struct {
	ID              string
	Position        string
	Rows, Columns   int
	BackgroundColor string
	FrameColor      string
	FrameWidth      float64
	BorderColor     string
	BorderWidth     float64
	Cells           []GraphicTableCell
}

// GraphicHorizLine is one horizontal level spanning a bar range.
type GraphicHorizLine struct {
	Price                float64
	StartIndex, EndIndex int
	Style                LineStyleValue
	Color                string
	Width                int
}

// PolygonPoint is one vertex of a plotted polygon.
type PolygonPoint struct {
	Index int
	X, Y  float64
}

// GraphicPolygon is one plotted polygon.
type GraphicPolygon struct {
	Points          []PolygonPoint
	Style           LineStyleValue
	Color           string
	BackgroundColor string
	Width           int
}

// GraphicHorizHist is one horizontal histogram bucket.
type GraphicHorizHist struct {
	Price                     float64
	FirstBarTime, LastBarTime int64
	Style                     LineStyleValue
	Color                     string
	Width                     int
}

// GraphicData is the decoded graphics payload attached to a study response,
// keyed by an indexes array mapping logical indices to bar indices.
type GraphicData struct {
	Indexes    []int
	Labels     []GraphicLabel
	Lines      []GraphicLine
	Boxes      []GraphicBox
	Tables     []GraphicTable
	HorizLines []GraphicHorizLine
	Polygons   []GraphicPolygon
	HorizHists []GraphicHorizHist
}
