package pipeline

import "strconv"

// Upload template parameter names
const (
	ParamWidth   = "width"
	ParamHeight  = "height"
	ParamQuality = "quality"
)

// FormatParameter renders the placeholder used for a parameter in URL templates.
func FormatParameter(name string) string {
	return ":" + name
}

// UploadTemplate returns the width, height and quality placeholders, in that order.
func UploadTemplate() (width, height, quality string) {
	return FormatParameter(ParamWidth), FormatParameter(ParamHeight), FormatParameter(ParamQuality)
}

// UploadParameters returns the substitution values for one variant.
func UploadParameters(width, height, quality int) map[string]string {
	return map[string]string{
		ParamWidth:   strconv.Itoa(width),
		ParamHeight:  strconv.Itoa(height),
		ParamQuality: strconv.Itoa(quality),
	}
}
