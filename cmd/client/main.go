package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"strings"
	"time"

	"spacegame.io/internal/protocol"
	"spacegame.io/internal/sim/planet"
	"spacegame.io/internal/transport/ws"
)

const (
	assignTimeout  = 1500 * time.Millisecond
	commandTimeout = 5 * time.Second
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "runtime ws url")
		playerID = flag.String("player", "", "player id")
	)
	flag.Parse()
	if strings.TrimSpace(*playerID) == "" {
		fmt.Fprintln(os.Stderr, "missing -player")
		os.Exit(2)
	}

	logger := log.New(os.Stderr, "[client] ", log.LstdFlags|log.Lmicroseconds)
	ctx := context.Background()
	conn, err := ws.DialClient(ctx, *url, *playerID, logger)
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	c := &client{
		conn:     conn,
		markers:  conn.Markers(),
		playerID: *playerID,
		out:      os.Stdout,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    time.Sleep,
	}
	if err := c.assign(ctx); err != nil {
		logger.Fatalf("assign planet: %v", err)
	}
	c.menu(ctx, bufio.NewScanner(os.Stdin))
}

type requester interface {
	Request(ctx context.Context, entity protocol.EntityID, command string, payload any) (protocol.CommandResponseMsg, error)
}

// client holds one player's session state.
type client struct {
	conn     requester
	markers  []protocol.EntityID
	playerID string
	out      io.Writer
	rng      *rand.Rand
	sleep    func(time.Duration)

	planetID   protocol.EntityID
	planetName string
}

// assign asks a random authority marker for a planet until one worker hands one out.
func (c *client) assign(ctx context.Context) error {
	if len(c.markers) == 0 {
		return errors.New("runtime announced no authority markers")
	}
	fmt.Fprintln(c.out, "Assigning you a planet...")
	for c.planetID <= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		marker := c.markers[c.rng.Intn(len(c.markers))]
		rctx, cancel := context.WithTimeout(ctx, assignTimeout)
		resp, err := c.conn.Request(rctx, marker, protocol.CmdAssignPlanet, protocol.AssignPlanetRequest{PlayerID: c.playerID})
		cancel()
		switch {
		case errors.Is(err, ws.ErrClosed):
			return err
		case err != nil:
			continue
		case resp.Code != "":
			fmt.Fprintf(c.out, "  marker %d: %s %s\n", marker, resp.Code, resp.Message)
			c.pause(assignTimeout)
			continue
		}
		var ar protocol.AssignPlanetResponse
		if err := json.Unmarshal(resp.Payload, &ar); err != nil {
			return fmt.Errorf("decode assign response: %w", err)
		}
		if ar.PlanetID <= 0 {
			c.pause(assignTimeout)
			continue
		}
		c.planetID = ar.PlanetID
		c.planetName = ar.PlanetName
	}
	fmt.Fprintf(c.out, "Assigned Planet '%s' (EntityId %d) to this client\n\n", c.planetName, c.planetID)
	return nil
}

func (c *client) pause(d time.Duration) {
	if c.sleep != nil {
		c.sleep(d)
		return
	}
	time.Sleep(d)
}

var menuImprovements = map[string]planet.Improvement{
	"1": planet.Mine,
	"3": planet.Probe,
	"4": planet.Deposit,
	"5": planet.Hangar,
	"6": planet.Nanobots,
}

func (c *client) menu(ctx context.Context, in *bufio.Scanner) {
	for {
		fmt.Fprintln(c.out, "Please enter your command:")
		fmt.Fprintln(c.out, " 1. Improve mine")
		fmt.Fprintln(c.out, " 2. Check planet status")
		fmt.Fprintln(c.out, " 3. Build probe")
		fmt.Fprintln(c.out, " 4. Build deposit")
		fmt.Fprintln(c.out, " 5. Build hangar")
		fmt.Fprintln(c.out, " 6. Build nanobots")
		fmt.Fprintln(c.out, " Q. Quit")
		fmt.Fprint(c.out, "\nCommand: ")
		if !in.Scan() {
			return
		}
		choice := strings.TrimSpace(in.Text())
		fmt.Fprintln(c.out)

		var err error
		switch {
		case strings.EqualFold(choice, "q"):
			return
		case choice == "2":
			err = c.status(ctx)
		case menuImprovements[choice] != planet.None:
			err = c.improve(ctx, menuImprovements[choice])
		default:
			fmt.Fprintln(c.out, "No idea about that command, sorry.")
		}
		if errors.Is(err, ws.ErrClosed) {
			fmt.Fprintln(c.out, "Disconnected.")
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		fmt.Fprintln(c.out)
	}
}

func (c *client) status(ctx context.Context) error {
	resp, err := c.command(ctx, protocol.CmdPlanetInfo, protocol.PlanetInfoRequest{PlanetID: c.planetID})
	if err != nil {
		return err
	}
	var info protocol.PlanetInfoResponse
	if err := json.Unmarshal(resp.Payload, &info); err != nil {
		return fmt.Errorf("decode planet info: %w", err)
	}
	renderPlanetInfo(c.out, info)
	return nil
}

func (c *client) improve(ctx context.Context, imp planet.Improvement) error {
	resp, err := c.command(ctx, protocol.CmdPlanetImprovement, protocol.PlanetImprovementRequest{PlanetID: c.planetID, Improvement: imp})
	if err != nil {
		return err
	}
	var pr protocol.PlanetImprovementResponse
	if err := json.Unmarshal(resp.Payload, &pr); err != nil {
		return fmt.Errorf("decode improvement response: %w", err)
	}
	fmt.Fprintln(c.out, pr.Message)
	return nil
}

func (c *client) command(ctx context.Context, command string, payload any) (protocol.CommandResponseMsg, error) {
	rctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	resp, err := c.conn.Request(rctx, c.planetID, command, payload)
	if err != nil {
		return resp, err
	}
	if resp.Code != "" {
		return resp, fmt.Errorf("%s: %s", resp.Code, resp.Message)
	}
	return resp, nil
}

func renderPlanetInfo(w io.Writer, info protocol.PlanetInfoResponse) {
	fmt.Fprintf(w, "Planet %s:\n", info.Name)
	fmt.Fprintf(w, "  / Production: Level %d mine - Minerals: %d / %d max\n",
		info.MineLevel, int(info.Minerals), int(info.MineralCapacity))
	fmt.Fprintf(w, "  / Spaceships: %d probes - Total: %d / %d max\n",
		info.ProbeCount, info.ProbeCount, info.ProbeCapacity)
	fmt.Fprintf(w, "  / Storage: Level %d hangar, Level %d mineral deposit\n",
		info.HangarLevel, info.DepositLevel)
	fmt.Fprintf(w, "  / Technology: Level %d nanobots\n", info.NanobotLevel)
	if info.BuildQueue == planet.None {
		fmt.Fprintf(w, "  / Build Queue: empty\n")
		return
	}
	fmt.Fprintf(w, "  / Build Queue: %s - %d seconds remaining\n",
		info.BuildQueue, int(info.BuildQueueRemainingSeconds))
}
