package main

import (
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/alive/v2"

	"github.com/gridgame/boardlink/fetch"
	"github.com/gridgame/boardlink/game"
	"github.com/gridgame/boardlink/log2"
	"github.com/gridgame/boardlink/state"
	"github.com/gridgame/boardlink/wire"
)

var log2Global = log2.NewStderr(log2.LInfo)

func main() {
	flagConfig := flag.String("config", "boardlink.hcl", "")
	flag.Parse()

	if sdnotify("READY=0\nSTATUS=init\n") {
		// under systemd, journal adds timestamps
		log.SetFlags(log2.LServiceFlags)
		log2Global.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
		log2Global.SetFlags(log2.LInteractiveFlags)
	} else {
		log.SetFlags(log2.LServiceFlags)
		log2Global.SetFlags(log2.LServiceFlags)
	}
	log2Global.Infof("boardlink start pid=%d", os.Getpid())

	config := state.MustReadConfig(log2Global, state.NewOsFullReader(), *flagConfig)
	if config.Log.Debug {
		log2Global.SetLevel(log2.LDebug)
	}
	log2Global.Debugf("config=%+v", config)

	fetcher, err := fetch.NewDispatcher(log2Global, config.Fetch)
	if err != nil {
		log2Global.Fatal(errors.ErrorStack(err))
	}
	defer fetcher.Close()

	sim := newSimBoard()
	client := game.NewClient(log2Global, fetcher, config.Game, game.Callbacks{
		Production:  sim.production,
		Consumption: sim.consumption,
		Plants:      sim.plants,
		Consumers:   sim.consumers,
	})

	a := alive.NewAlive()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log2Global.Infof("graceful stop")
		a.Stop()
	}()

	for a.IsRunning() {
		if err := client.Login(config.Game.Username, config.Game.Password); err != nil {
			log2Global.Errorf("login err=%v", err)
			waitOrStop(a, 5*time.Second)
			continue
		}
		break
	}
	for a.IsRunning() && client.LoggedIn() {
		if err := client.Register(); err != nil {
			log2Global.Errorf("register err=%v", err)
			waitOrStop(a, 5*time.Second)
			continue
		}
		break
	}
	sdnotify(daemon.SdNotifyReady)
	log2Global.Infof("session ready, running")

	tick := time.NewTicker(1 * time.Second)
	defer tick.Stop()
	stopch := a.StopChan()
loop:
	for {
		select {
		case <-stopch:
			break loop
		case <-tick.C:
			sim.step()
			if client.Update() {
				cs := client.Coefficients()
				log2Global.Infof("coefficients changed active=%t production=%v consumption=%v",
					cs.GameActive, cs.Production, cs.Consumption)
				sim.apply(cs)
			}
		}
	}

	a.Wait()
	log2Global.Infof("stopped")
}

func waitOrStop(a *alive.Alive, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-a.StopChan():
	case <-t.C:
	}
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}

// simBoard fakes a small plant and a household load so the binary is
// usable against a server without real metering hardware.
type simBoard struct {
	t       float64
	prodMul float64
	consMul float64
}

func newSimBoard() *simBoard {
	return &simBoard{prodMul: 1, consMul: 1}
}

func (s *simBoard) step() { s.t++ }

func (s *simBoard) production() float64 {
	return s.prodMul * (3.0 + math.Sin(s.t/10)*1.5)
}

func (s *simBoard) consumption() float64 {
	return s.consMul * (2.0 + math.Cos(s.t/7)*0.5)
}

func (s *simBoard) plants() []wire.Plant {
	return []wire.Plant{{ID: 1001, SetPower: wire.Milliwatts(s.production())}}
}

func (s *simBoard) consumers() []uint32 {
	return []uint32{2001}
}

func (s *simBoard) apply(cs game.CoeffSet) {
	if !cs.GameActive {
		s.prodMul, s.consMul = 1, 1
		return
	}
	for _, v := range cs.Production {
		s.prodMul = v
		break
	}
	for _, v := range cs.Consumption {
		s.consMul = v
		break
	}
}
