package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

func doRelayList(cCtx *cli.Context) error {
	s := getState(cCtx)
	var urls []string
	for u := range s.cfg.Relays {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	for _, u := range urls {
		p := s.cfg.Relays[u]
		if p.Enabled {
			color.Set(color.FgHiGreen)
			fmt.Print("on  ")
		} else {
			color.Set(color.FgRed)
			fmt.Print("off ")
		}
		color.Set(color.Reset)
		mode := ""
		if p.Read {
			mode += "r"
		}
		if p.Write {
			mode += "w"
		}
		fmt.Printf("%-2s %s\n", mode, u)
	}
	return nil
}

func setRelayEnabled(cCtx *cli.Context, on bool) error {
	s := getState(cCtx)
	u := cCtx.Args().Get(0)
	p, ok := s.cfg.Relays[u]
	if !ok {
		return fmt.Errorf("unknown relay %s", u)
	}
	p.Enabled = on
	return s.cfg.Save()
}

func doRelayEnable(cCtx *cli.Context) error  { return setRelayEnabled(cCtx, true) }
func doRelayDisable(cCtx *cli.Context) error { return setRelayEnabled(cCtx, false) }
