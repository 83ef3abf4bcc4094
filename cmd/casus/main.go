// cmd/casus/main.go is a terminal host for the session core: it joins a
// room, renders the lobby and chat as plain text, and maps slash commands
// onto session actions. Useful for playing from a shell and for poking a
// server without a browser.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	_ "github.com/joho/godotenv/autoload"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/casusgame/casus/internal/config"
	"github.com/casusgame/casus/internal/game"
	"github.com/casusgame/casus/internal/history"
	"github.com/casusgame/casus/internal/protocol"
	"github.com/casusgame/casus/internal/session"
	"github.com/casusgame/casus/internal/store"
	"github.com/casusgame/casus/internal/transport"
)

func main() {
	var (
		roomID  = flag.String("room", "", "room code to join")
		name    = flag.String("name", "", "player name (saved for resume)")
		verbose = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}

	cfg := config.Load()
	if *roomID == "" {
		fmt.Fprintln(os.Stderr, "usage: casus -room CODE [-name NAME]")
		os.Exit(2)
	}

	clock := clockwork.NewRealClock()
	fileStore, err := store.NewFileStore(cfg.StateDir, clock, log)
	if err != nil {
		log.Fatalf("state store: %v", err)
	}
	snaps := session.NewSnapshotStore(fileStore, clock, log, cfg.SnapshotTTL, cfg.JoinRetryExpiry)
	if *name != "" {
		snaps.SavePlayerName(*name)
	}

	dialer, err := transport.NewDialer(cfg.ServerURL, log)
	if err != nil {
		log.Fatalf("dialer: %v", err)
	}

	deps := session.Deps{
		Logger:    log,
		Clock:     clock,
		Dialer:    dialer,
		Snapshots: snaps,
		UI:        &termUI{},
		Notifier:  &termNotifier{},
		Navigator: &termNavigator{},
	}
	if cfg.RedisAddr != "" {
		rec, err := history.NewRedisRecorder(cfg.RedisAddr, cfg.TranscriptQueue, log)
		if err != nil {
			log.Warnf("transcript disabled: %v", err)
		} else {
			defer rec.Close()
			deps.Recorder = rec
		}
	}

	sess := session.New(cfg, *roomID, deps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go readCommands(sess)

	fmt.Printf("Joining room %s at %s\n", *roomID, cfg.ServerURL)
	sess.Run(ctx)
}

// readCommands maps stdin lines onto session actions. Plain text is chat.
func readCommands(sess *session.Session) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sess.SendChat(line)
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "/start":
			sess.StartGame()
		case "/votenow":
			sess.RequestVoting()
		case "/vote":
			if len(fields) > 1 {
				sess.CastVote(strings.Join(fields[1:], " "))
			}
		case "/hide":
			sess.HideRole()
		case "/show":
			sess.RevealRole()
		case "/again":
			sess.PlayAgain()
		case "/bg":
			sess.SetVisible(false)
		case "/fg":
			sess.SetVisible(true)
		case "/create":
			if len(fields) == 4 {
				spies, err := strconv.Atoi(fields[3])
				if err == nil {
					if err := sess.CreateRoom(fields[1], fields[2], spies); err != nil {
						fmt.Println("!", err)
					}
					continue
				}
			}
			fmt.Println("usage: /create PLAYER ROOM SPIES")
		case "/leave":
			sess.Leave()
			return
		default:
			fmt.Println("commands: /start /votenow /vote NAME /hide /show /again /bg /fg /create /leave")
		}
	}
}

// termNotifier prints transient notices with their level.
type termNotifier struct{}

func (termNotifier) Notify(level game.NotifyLevel, message string) {
	fmt.Printf("[%s] %s\n", level, message)
}

// termNavigator stands in for page navigation: a redirect or reload ends the
// process, printing where a browser would have gone.
type termNavigator struct{}

func (termNavigator) Redirect(url string) {
	fmt.Printf("-- session over, continue at %s\n", url)
}

func (termNavigator) Reload() {
	fmt.Println("-- reconnection exhausted; restart the client to rejoin")
	os.Exit(1)
}

// termUI renders the session as plain text.
type termUI struct{}

func (termUI) ShowRoster(players []protocol.Player, startVisible bool) {
	fmt.Printf("players (%d):\n", len(players))
	for _, p := range players {
		mark := "x"
		if p.Connected {
			mark = "o"
		}
		fmt.Printf("  [%s] %s\n", mark, p.Name)
	}
	if startVisible {
		fmt.Println("type /start to begin the game")
	}
}

func (termUI) AppendChat(from, message, timestamp string) {
	fmt.Printf("%s <%s> %s\n", timestamp, from, message)
}

func (termUI) AppendNotice(message string) {
	fmt.Printf("* %s\n", message)
}

func (termUI) EnableChat(enabled bool) {
	if enabled {
		fmt.Println("* chat is open")
	}
}

func (termUI) ShowRoleCard(role game.Role) {
	if role.Kind == game.RoleSpy {
		fmt.Println("=== YOUR ROLE: SPY ===")
	} else {
		fmt.Printf("=== YOUR ROLE: CITIZEN — country: %s ===\n", role.Country)
	}
	if role.Message != "" {
		fmt.Println(role.Message)
	}
	fmt.Println("(/hide to tuck this away)")
}

func (termUI) ShowRoleIndicator(role game.Role) {
	fmt.Printf("[role hidden: %s — /show to peek]\n", role.Kind)
}

func (termUI) ClearRole() {}

func (termUI) ShowTimer(text, label string) {
	fmt.Printf("\r[%s %s] ", label, text)
}

func (termUI) HideTimer() {
	fmt.Println()
}

func (termUI) ShowVoteControls(eligible []string) {
	fmt.Println("vote with /vote NAME — candidates:")
	for _, n := range eligible {
		fmt.Println("  -", n)
	}
}

func (termUI) DisableVoteControls(voted string) {
	fmt.Printf("vote locked in: %s\n", voted)
}

func (termUI) HideVoteControls() {}

func (termUI) ShowTally(counts map[string]int) {
	fmt.Println("vote distribution:")
	for player, votes := range counts {
		fmt.Printf("  %s: %d\n", player, votes)
	}
}

func (termUI) ShowEndSummary(s game.ShowEndSummary) {
	fmt.Println("==============================")
	if s.Result == "citizens_win" {
		fmt.Println("  CITIZENS WIN")
	} else {
		fmt.Println("  THE SPY WINS")
	}
	fmt.Printf("  country: %s\n  spy: %s\n  voted out: %s\n", s.Country, s.SpyPlayer, s.VotedPlayer)
	fmt.Println("  /again to play another round")
	fmt.Println("==============================")
}

func (termUI) CloseEndSummary() {}

func (termUI) ConnectionChanged(st session.ConnectionState) {
	switch {
	case st.Connected:
		fmt.Println("* connected")
	case st.Reconnecting:
		fmt.Printf("* reconnecting (attempt %d)\n", st.ReconnectAttempts)
	default:
		fmt.Println("* disconnected")
	}
}
