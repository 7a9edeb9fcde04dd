package dlp

import "regexp"

// CodeSpanLimit bounds the single reported span for a code finding, in runes.
const CodeSpanLimit = 200

// MaxCodeScore is the highest value ScoreCodeSignals can return.
const MaxCodeScore = 7

var (
	fencedBlockRe = regexp.MustCompile("(?s)```.*?```")
	importStmtRe  = regexp.MustCompile(`(?m)^\s*(?:import|from\s+|require\s*\(|function\s+\w+|def\s+\w+|class\s+\w+)`)
	exportStmtRe  = regexp.MustCompile(`\bexport\s+(?:default|const|function|class)\b`)
	fnAssignRe    = regexp.MustCompile(`\b(?:const|let|var)\s+\w+\s*=\s*(?:function|\([^)]*\)\s*=>|\w+\()`)
	arrowFnRe     = regexp.MustCompile(`=>\s*\{|}\s*=>`)
	blockCommRe   = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineCommRe    = regexp.MustCompile(`//\s*.+`)
	openBracketRe = regexp.MustCompile(`[{(\[]`)
	closeBrackRe  = regexp.MustCompile(`[})\]]`)
)

// ScoreCodeSignals counts independent source-code signals in text, 0 to 7.
// Each signal contributes one point regardless of how often it occurs. The
// classifier maps the score to confidence (>=4 high, >=2 medium, >0 low) and
// reports it as the finding count.
func ScoreCodeSignals(text string) int {
	score := 0
	if fencedBlockRe.MatchString(text) {
		score++
	}
	if importStmtRe.MatchString(text) {
		score++
	}
	if exportStmtRe.MatchString(text) {
		score++
	}
	if fnAssignRe.MatchString(text) {
		score++
	}
	if arrowFnRe.MatchString(text) {
		score++
	}
	if blockCommRe.MatchString(text) || lineCommRe.MatchString(text) {
		score++
	}
	open := len(openBracketRe.FindAllString(text, -1))
	closed := len(closeBrackRe.FindAllString(text, -1))
	diff := open - closed
	if diff < 0 {
		diff = -diff
	}
	if open >= 2 && closed >= 2 && diff <= 2 {
		score++
	}
	return score
}
