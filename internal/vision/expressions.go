package vision

// NumExpressions is the length of every expression vector.
const NumExpressions = 7

// ExpressionLabels names each slot of an Expressions vector, in order.
var ExpressionLabels = [NumExpressions]string{
	"anger",
	"disgust",
	"fear",
	"happiness",
	"sadness",
	"surprise",
	"neutral",
}

// Expressions holds one intensity per expression class.
type Expressions [NumExpressions]float64

// Dominant returns the label and intensity of the strongest expression.
// Ties resolve to the earliest class.
func (e Expressions) Dominant() (string, float64) {
	best := 0
	for i := 1; i < NumExpressions; i++ {
		if e[i] > e[best] {
			best = i
		}
	}
	return ExpressionLabels[best], e[best]
}

// Map returns the vector keyed by label.
func (e Expressions) Map() map[string]float64 {
	m := make(map[string]float64, NumExpressions)
	for i, label := range ExpressionLabels {
		m[label] = e[i]
	}
	return m
}

// reshape copies the first NumExpressions raw values into a vector.
func reshape(raw []float32) (Expressions, bool) {
	var e Expressions
	if len(raw) < NumExpressions {
		return e, false
	}
	for i := range e {
		e[i] = float64(raw[i])
	}
	return e, true
}
