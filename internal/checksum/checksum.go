// Package checksum computes the integrity value sent with a final submission.
// Client and server share this code so both sides hash the same canonical form.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/stemsi/exstem-portal/internal/model"
)

const (
	fieldSep  = 0x1f
	recordSep = 0x1e
)

// Of returns the hex SHA-256 of the answers in question-id order.
func Of(answers map[string]model.AnswerValue) string {
	ids := make([]string, 0, len(answers))
	for id := range answers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		a := answers[id]
		for _, f := range []string{id, string(a.Kind), a.Value, a.URL, a.Note} {
			h.Write([]byte(f))
			h.Write([]byte{fieldSep})
		}
		h.Write([]byte{recordSep})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether sum matches the answers.
func Verify(answers map[string]model.AnswerValue, sum string) bool {
	return Of(answers) == sum
}
