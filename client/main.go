package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Mock game server: dials the sync service listener, authenticates, then
// drives player:connect / player:sync / player:disconnect from stdin.

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func send(c *websocket.Conn, event string, data interface{}) error {
	payload := struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data,omitempty"`
	}{Event: event, Data: data}
	return c.WriteJSON(&payload)
}

func main() {
	addr := flag.String("addr", "ws://localhost:8090/ws", "sync service listener URL")
	token := flag.String("token", "", "game server API token")
	steamID := flag.String("steam", "76561198000000001", "steamId to drive")
	flag.Parse()

	if *token == "" {
		log.Fatal("-token is required")
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	log.Printf("Connecting to %s", *addr)
	c, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	if err := send(c, "auth", map[string]string{"token": *token}); err != nil {
		log.Fatalf("Auth write failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var f frame
			if err := c.ReadJSON(&f); err != nil {
				log.Println("Read error:", err)
				return
			}
			log.Printf("<- RECV %s: %s", f.Event, string(f.Data))
		}
	}()

	syncSeq := int64(0)
	currency := int64(0)

	doc := func() map[string]interface{} {
		return map[string]interface{}{
			"v":        2,
			"steamId":  *steamID,
			"eosId":    nil,
			"name":     "mock-player",
			"serverId": nil,
			"lastSync": time.Now().UTC().Format(time.RFC3339),
			"syncSeq":  syncSeq,
			"stats": map[string]interface{}{
				"currency": currency, "currencyTotal": currency, "currencySpent": 0,
				"xp": 0, "xpTotal": 0, "prestige": 0, "permaTokens": 0,
				"dailyClaims": 0, "gamesPlayed": 1, "timePlayed": 60,
				"joinTime": nil, "dailyClaimTime": nil,
			},
			"skins":           map[string]interface{}{"indfor": nil, "blufor": nil, "redfor": nil},
			"loadout":         []interface{}{},
			"perks":           []string{},
			"permaUnlocks":    []string{},
			"supporterStatus": []string{},
			"tracking": map[string]interface{}{
				"kills": map[string]int64{}, "vehicleKills": map[string]int64{},
				"purchases": map[string]int64{}, "weaponXp": map[string]int64{},
				"rewards": map[string]int64{},
			},
		}
	}

	log.Println("Commands: connect | sync | disconnect | recover | quit")
	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		default:
			text, _ := reader.ReadString('\n')
			switch strings.TrimSpace(text) {
			case "connect":
				send(c, "player:connect", map[string]interface{}{"steamId": *steamID})
				log.Println("-> SENT player:connect")
			case "sync":
				syncSeq++
				currency += 100
				send(c, "player:sync", doc())
				log.Printf("-> SENT player:sync seq=%d", syncSeq)
			case "disconnect":
				syncSeq++
				send(c, "player:disconnect", doc())
				log.Printf("-> SENT player:disconnect seq=%d", syncSeq)
			case "recover":
				send(c, "player:crash-recovery", doc())
				log.Printf("-> SENT player:crash-recovery seq=%d", syncSeq)
			case "quit":
				return
			}
		}
	}
}
