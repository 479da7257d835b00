package process

// Baseline page scores on a 0..100 scale. The diagnostics collaborator may refine them
// later; finalize averages whatever is stored.

// ScoreAEO rates how readily an answer engine can lift a direct answer from the page
func ScoreAEO(ex *Extraction) float64 {
	s := ex.Signals
	score := 0.0
	if ex.Title != "" {
		score += 10
	}
	if s.MetaDescription != "" {
		score += 10
	}
	if ex.H1 != "" {
		score += 10
	}
	if ex.Canonical != "" {
		score += 5
	}
	if len(s.Headings) >= 3 {
		score += 10
	}
	if s.QuestionHeads > 0 {
		score += 10
	}
	if s.HasFAQMarkup {
		score += 15
	}
	if len(ex.SchemaTypes) > 0 {
		score += 10
	}
	if s.AnswerPassages >= 2 {
		score += 10
	}
	if s.WordCount >= 300 {
		score += 10
	}
	return score
}

// ScoreGEO rates how well a generative engine can understand, trust and cite the page
func ScoreGEO(ex *Extraction) float64 {
	s := ex.Signals
	score := 0.0
	switch {
	case s.WordCount >= 600:
		score += 20
	case s.WordCount >= 300:
		score += 10
	}
	if s.AnswerPassages >= 3 {
		score += 15
	}
	if len(s.Headings) >= 3 {
		score += 10
	}
	if len(ex.SchemaTypes) > 0 {
		score += 15
	}
	if len(s.OpenGraph) > 0 {
		score += 10
	}
	if s.Lang != "" {
		score += 5
	}
	if s.ExternalLinks > 0 {
		score += 10
	}
	if s.InternalLinks >= 5 {
		score += 10
	}
	if s.MetaDescription != "" {
		score += 5
	}
	return score
}
