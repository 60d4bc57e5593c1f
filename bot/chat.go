package bot

import "fmt"

// Chat supplies the fixed lines the bot says over the course of a game.
type Chat struct{}

func (Chat) Greeting(opponent string) string {
	return fmt.Sprintf("Good luck, %s! I dont do any search, read about me on Github if interested!", opponent)
}

func (Chat) OnWin() string { return "Good game!" }

func (Chat) OnLoss() string { return "Well played!" }

func (Chat) OnDraw() string { return "A draw! Good game." }
