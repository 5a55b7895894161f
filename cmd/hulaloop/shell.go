package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/lisuiheng/hulaloop-go/audio"
	"github.com/lisuiheng/hulaloop-go/core"
	"github.com/spf13/cobra"
)

const shellHelp = `Commands:
  record [delay] [duration]   start recording (seconds or Go durations, duration 0 = until stop)
  stop                        stop recording or playback
  play                        play back the last recording
  pause                       pause recording or playback
  state                       print the transport state
  devices [type]              list devices (record, playback, loopback, all)
  input <name>                select the input device
  output <name>               select the output device
  export <path>               export recordings to a WAV file
  discard                     delete all temporary recordings
  help                        show this help
  exit                        quit`

func shellCommand(cfg *core.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive record/playback shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sh := &shell{tr: a.transport, out: cmd.OutOrStdout()}
			return sh.run(cmd.Context(), cmd.InOrStdin())
		},
	}
}

type shell struct {
	tr  *core.Transport
	out io.Writer
}

// run 逐行执行命令，直到 exit、输入结束或 ctx 取消
func (s *shell) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(s.out, "hulaloop shell, type 'help' for commands")
	for {
		fmt.Fprint(s.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.exec(line); quit {
				return nil
			}
		}
	}
}

// exec 执行一行命令，返回是否退出
func (s *shell) exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	args := fields[1:]
	switch strings.ToLower(fields[0]) {
	case "record", "r":
		s.record(args)
	case "stop", "s":
		s.report(s.tr.Stop())
	case "play", "p":
		s.report(s.tr.Play())
	case "pause", "pa":
		s.report(s.tr.Pause())
	case "state", "st":
		fmt.Fprintln(s.out, s.tr.StateString())
	case "devices", "d":
		s.devices(args)
	case "input", "i":
		s.selectDevice(args, audio.Record|audio.Loopback, s.tr.Controller().SetActiveInputDevice)
	case "output", "o":
		s.selectDevice(args, audio.Playback, s.tr.Controller().SetActiveOutputDevice)
	case "export", "e":
		if len(args) != 1 {
			fmt.Fprintln(s.out, "usage: export <path>")
			return false
		}
		if err := s.tr.ExportFile(args[0]); err != nil {
			fmt.Fprintln(s.out, "error:", err)
			return false
		}
		fmt.Fprintln(s.out, "exported to", args[0])
	case "discard":
		s.tr.Discard()
		fmt.Fprintln(s.out, "recordings discarded")
	case "help", "h", "?":
		fmt.Fprintln(s.out, shellHelp)
	case "exit", "quit", "q":
		return true
	default:
		fmt.Fprintf(s.out, "unknown command %q, type 'help'\n", fields[0])
	}
	return false
}

func (s *shell) record(args []string) {
	delay, duration := time.Duration(0), core.InfiniteRecord
	var err error
	if len(args) > 0 {
		if delay, err = parseSeconds(args[0]); err != nil {
			fmt.Fprintln(s.out, "error:", err)
			return
		}
	}
	if len(args) > 1 {
		if duration, err = parseSeconds(args[1]); err != nil {
			fmt.Fprintln(s.out, "error:", err)
			return
		}
		if duration <= 0 {
			duration = core.InfiniteRecord
		}
	}
	s.report(s.tr.Record(delay, duration))
}

func (s *shell) report(ok bool) {
	if ok {
		fmt.Fprintln(s.out, s.tr.StateString())
		return
	}
	fmt.Fprintln(s.out, "error:", s.tr.LastError())
}

func (s *shell) devices(args []string) {
	mask := audio.AllDevices
	if len(args) > 0 {
		m, err := audio.ParseDeviceType(args[0])
		if err != nil {
			fmt.Fprintln(s.out, "error:", err)
			return
		}
		mask = m
	}
	if err := printDevices(s.out, s.tr.Controller(), mask); err != nil {
		fmt.Fprintln(s.out, "error:", err)
	}
}

func (s *shell) selectDevice(args []string, mask audio.DeviceType, set func(*audio.Device) error) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "usage: input|output <name>")
		return
	}
	d, err := s.tr.Controller().FindDevice(strings.Join(args, " "), mask)
	if err != nil {
		fmt.Fprintln(s.out, "error:", err)
		return
	}
	defer d.Release()
	if err := set(d); err != nil {
		fmt.Fprintln(s.out, "error:", err)
		return
	}
	fmt.Fprintln(s.out, "using", d.Name)
}

// parseSeconds 接受秒数（"2.5"）或 Go 时长（"1500ms"）
func parseSeconds(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
