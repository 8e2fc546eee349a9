package domain

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
)

const shortAnswerEpsilon = 1e-6

// Score grades a participant's answers against the exam's answer key and
// returns the summed point value of matched questions. It is a pure function:
// the same exam and answers always produce the same score. Unanswered
// questions score zero; choice answers are compared as sets, short answers
// through ShortAnswerMatches.
func Score(exam Exam, answers AnswerSet) int {
	total := 0
	for _, q := range exam.Questions {
		selected, ok := answers[q.ID]
		if !ok || len(selected) == 0 {
			continue
		}
		if answerMatches(q, selected) {
			total += questionPoints(q)
		}
	}
	return total
}

func questionPoints(q Question) int {
	if q.Points > 0 {
		return q.Points
	}
	return 1
}

func answerMatches(q Question, selected []string) bool {
	if q.Type == QuestionShort {
		return ShortAnswerMatches(selected[0], q.CorrectAnswers)
	}
	return setsEqual(selected, q.CorrectAnswers)
}

// setsEqual compares two answer sets order-independently.
func setsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, v := range a {
		counts[v]++
	}
	for _, v := range b {
		counts[v]--
		if counts[v] < 0 {
			return false
		}
	}
	return true
}

// ShortAnswerMatches reports whether a typed answer matches any accepted
// value. Both sides are trimmed, case-folded and whitespace-collapsed; if both
// parse as numbers after normalizing a decimal comma to a point, they match
// when within a small epsilon. "3", "3.0" and "3,0" are all equal.
func ShortAnswerMatches(raw string, accepted []string) bool {
	user := normalizeShort(raw)
	if user == "" {
		return false
	}
	for _, option := range accepted {
		correct := normalizeShort(option)
		if user == correct {
			return true
		}
		userNum, uerr := parseNumeric(user)
		correctNum, cerr := parseNumeric(correct)
		if uerr == nil && cerr == nil && math.Abs(userNum-correctNum) < shortAnswerEpsilon {
			return true
		}
	}
	return false
}

func normalizeShort(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

func parseNumeric(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

// ShuffledOrder returns a deterministic permutation of [0,n) for a given
// seed. Clients use one seed per join, so a reconnecting participant sees the
// same ordering across sessions.
func ShuffledOrder(seed int64, n int) []int {
	return rand.New(rand.NewSource(seed)).Perm(n)
}
