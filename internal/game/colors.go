// internal/game/colors.go
package game

import "fmt"

// PlayerColor derives a stable HSL color from a player name so chat lines and
// roster entries stay consistently colored across clients. Same hash the web
// host used, kept so both render identically.
func PlayerColor(name string) string {
	var hash int32
	for _, r := range name {
		hash = r + ((hash << 5) - hash)
	}
	h := hash
	if h < 0 {
		h = -h
	}
	hue := h % 360
	saturation := 60 + h%40
	lightness := 45 + h%20
	return fmt.Sprintf("hsl(%d, %d%%, %d%%)", hue, saturation, lightness)
}
