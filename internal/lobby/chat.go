package lobby

import (
	"strconv"
	"strings"

	"github.com/detentegame/detente/internal/game"
)

// ParseTargets splits an @-addressed chat body. A body like "1 2@hello"
// resolves to targets {1, 2} with text "hello"; delivery adds the sender for
// reply semantics. A body without an @, or whose prefix is not a
// space/comma-separated list of plids, is a plain lobby-wide message.
func ParseTargets(body string) (targets []game.Plid, text string, addressed bool) {
	at := strings.Index(body, "@")
	if at < 0 {
		return nil, body, false
	}

	tokens := strings.FieldsFunc(body[:at], func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(tokens) == 0 {
		return nil, body, false
	}

	targets = make([]game.Plid, 0, len(tokens))
	for _, token := range tokens {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 {
			return nil, body, false
		}
		targets = append(targets, game.Plid(n))
	}
	return targets, body[at+1:], true
}
