package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"example.com/pulsetrack/internal/collector"
)

// Control commands handled by the agent itself rather than the registry.
const (
	cmdFlush = "flush"
	cmdHide  = "hide"
)

// parseLine turns one stdin line into an input name and its fields:
//
//	mousemove X Y
//	click X Y [BUTTON]
//	scroll X Y
//	keydown KEY | keyup KEY
//	touchstart | touchend
//	error MESSAGE...
//	flush | hide
func parseLine(line string) (string, collector.Input, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", collector.Input{}, nil
	}
	name, args := fields[0], fields[1:]
	var in collector.Input
	switch name {
	case collector.InputMouseMove, collector.InputClick, collector.InputScroll:
		if len(args) < 2 {
			return "", in, fmt.Errorf("%s needs X and Y", name)
		}
		x, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return "", in, fmt.Errorf("%s: bad X %q", name, args[0])
		}
		y, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return "", in, fmt.Errorf("%s: bad Y %q", name, args[1])
		}
		if name == collector.InputScroll {
			in.ScrollX, in.ScrollY = x, y
		} else {
			in.X, in.Y = x, y
		}
		if name == collector.InputClick {
			in.Button = "left"
			if len(args) > 2 {
				in.Button = args[2]
			}
		}
	case collector.InputKeyDown, collector.InputKeyUp:
		if len(args) != 1 {
			return "", in, fmt.Errorf("%s needs one key", name)
		}
		in.Key = args[0]
	case collector.InputTouchStart, collector.InputTouchEnd, cmdFlush, cmdHide:
	case collector.InputError:
		in.Message = strings.Join(args, " ")
		in.Source = "stdin"
	default:
		return "", in, fmt.Errorf("unknown input %q", name)
	}
	return name, in, nil
}

func handleLine(ctx context.Context, c *collector.Collector, line string, logger *slog.Logger) {
	name, in, err := parseLine(line)
	if err != nil {
		logger.Warn("ignoring input line", "line", line, "error", err)
		return
	}
	switch name {
	case "":
	case cmdFlush:
		res, err := c.Engine().Flush(ctx, collector.DefaultBatchSize, collector.ModeNormal)
		if err != nil {
			logger.Warn("flush failed", "error", err)
			return
		}
		logger.Info("flushed", "attempted", res.Attempted, "delivered", res.Delivered, "requeued", res.Requeued)
	case cmdHide:
		res := c.Hide(ctx)
		logger.Info("lifecycle flush", "attempted", res.Attempted, "delivered", res.Delivered, "requeued", res.Requeued)
	default:
		c.Dispatch(name, in)
	}
}
