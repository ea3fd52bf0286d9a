package plugins

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sofmeright/dockrun/src/build"
	"github.com/sofmeright/dockrun/src/pipeline"
)

// execPlugin runs a command. Arguments:
//
//	command: "make image"          # run through sh -c
//	command: [docker, build, .]    # exec directly
//	dir: subdir                    # relative to the work dir
//	env: {KEY: value}              # appended to the process env
//	timeout: 10m
//	capture: image_id              # trimmed stdout stored under this key
//	image_id: true                 # trimmed stdout also becomes the image id
type execPlugin struct {
	verbose bool
	stdout  io.Writer
	stderr  io.Writer
	dir     string
}

func (p *execPlugin) Run(ctx context.Context, bc *build.Context, args *pipeline.Map) (*build.Contribution, error) {
	argv, err := p.command(args)
	if err != nil {
		return nil, err
	}
	dir, err := stringArg(args, "dir")
	if err != nil {
		return nil, err
	}
	env, err := stringMapArg(args, "env")
	if err != nil {
		return nil, err
	}
	capture, err := stringArg(args, "capture")
	if err != nil {
		return nil, err
	}
	setImage := false
	if v, ok := args.Get("image_id"); ok {
		b, isBool := v.AsBool()
		if !isBool {
			return nil, fmt.Errorf("argument %q: expected bool, got %s", "image_id", v.Kind())
		}
		setImage = b
	}

	if raw, err := stringArg(args, "timeout"); err != nil {
		return nil, err
	} else if raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", "timeout", err)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	if p.verbose {
		fmt.Fprintf(p.stderr, "exec: %s\n", strings.Join(argv, " "))
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = p.dir
	if dir != "" {
		cmd.Dir = filepath.Join(p.dir, dir)
	}
	cmd.Env = append(os.Environ(), "DOCKRUN_BUILD_ID="+bc.BuildID)
	for _, k := range sortedKeys(env) {
		cmd.Env = append(cmd.Env, k+"="+env[k])
	}

	var captured bytes.Buffer
	if capture != "" || setImage {
		cmd.Stdout = io.MultiWriter(&captured, p.stdout)
	} else {
		cmd.Stdout = p.stdout
	}
	cmd.Stderr = p.stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", argv[0], ctx.Err())
		}
		return nil, fmt.Errorf("%s: %w", argv[0], err)
	}

	out := strings.TrimSpace(captured.String())
	contrib := &build.Contribution{}
	if capture != "" {
		contrib.Values = map[string]pipeline.Value{capture: pipeline.String(out)}
	}
	if setImage {
		contrib.ImageID = out
	}
	return contrib, nil
}

func (p *execPlugin) command(args *pipeline.Map) ([]string, error) {
	v, ok := args.Get("command")
	if !ok || v.IsNull() {
		return nil, fmt.Errorf("argument %q is required", "command")
	}
	if s, isStr := v.Str(); isStr {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("argument %q is empty", "command")
		}
		return []string{"sh", "-c", s}, nil
	}
	argv, err := stringsArg(args, "command")
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("argument %q is empty", "command")
	}
	return argv, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
