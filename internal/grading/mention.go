package grading

// Mention is the qualitative label derived from an overall average.
type Mention string

const (
	MentionExcellent    Mention = "Excellent"
	MentionGood         Mention = "Good"
	MentionFairlyGood   Mention = "Fairly good"
	MentionPassing      Mention = "Passing"
	MentionInsufficient Mention = "Insufficient"
)

type bracket struct {
	min          float64
	mention      Mention
	appreciation string
}

// brackets are ordered from the highest lower bound; each bound is inclusive.
var brackets = []bracket{
	{16, MentionExcellent, "Excellent work."},
	{14, MentionGood, "Good work, keep it up."},
	{12, MentionFairlyGood, "Commendable effort, can do better."},
	{10, MentionPassing, "Average results, must work harder."},
}

const insufficientAppreciation = "Insufficient work, a serious effort is required."

// MentionFor maps an average on the 0-20 scale to its mention.
func MentionFor(average float64) Mention {
	avg := Round2(average)
	for _, b := range brackets {
		if avg >= b.min {
			return b.mention
		}
	}
	return MentionInsufficient
}

// AppreciationFor returns the canned remark for the bracket of average.
func AppreciationFor(average float64) string {
	avg := Round2(average)
	for _, b := range brackets {
		if avg >= b.min {
			return b.appreciation
		}
	}
	return insufficientAppreciation
}
