package plugins

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sofmeright/dockrun/src/build"
	"github.com/sofmeright/dockrun/src/pipeline"
)

var (
	// FROM [--platform=...] <image> [AS <name>]
	fromRe = regexp.MustCompile(`(?i)^FROM\s+(?:--platform=\S+\s+)?(\S+)(?:\s+AS\s+(\S+))?`)
	// ARG <name>[=<default>]
	argRe = regexp.MustCompile(`(?i)^ARG\s+(\S+?)(?:=.*)?$`)
	// EXPOSE <port>[/<proto>]
	exposeRe = regexp.MustCompile(`(?i)^EXPOSE\s+(.+)`)
	// LABEL <key>=<value> ...
	labelRe   = regexp.MustCompile(`(?i)^LABEL\s+(.+)`)
	labelKVRe = regexp.MustCompile(`("[^"]*"|[^\s=]+)=("[^"]*"|\S*)`)
)

// dockerStage is one FROM block.
type dockerStage struct {
	Name      string
	BaseImage string
	Line      int
}

// dockerfileInfo is what inspect_dockerfile extracts.
type dockerfileInfo struct {
	Stages []dockerStage
	Args   []string
	Expose []string
	Labels map[string]string
}

// BaseImage returns the image the final stage builds from.
func (d *dockerfileInfo) BaseImage() string {
	if len(d.Stages) == 0 {
		return ""
	}
	return d.Stages[len(d.Stages)-1].BaseImage
}

// ParentImages returns the distinct external images, skipping references
// to earlier stages.
func (d *dockerfileInfo) ParentImages() []string {
	stages := map[string]bool{}
	seen := map[string]bool{}
	var out []string
	for _, s := range d.Stages {
		if !stages[strings.ToLower(s.BaseImage)] && !seen[s.BaseImage] && s.BaseImage != "scratch" {
			seen[s.BaseImage] = true
			out = append(out, s.BaseImage)
		}
		if s.Name != "" {
			stages[strings.ToLower(s.Name)] = true
		}
	}
	return out
}

// parseDockerfile is a line-based reader, not a full AST. Continuation
// lines are joined first.
func parseDockerfile(r io.Reader) (*dockerfileInfo, error) {
	info := &dockerfileInfo{Labels: map[string]string{}}
	scanner := bufio.NewScanner(r)
	lineNum, start := 0, 0
	var pending strings.Builder

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if pending.Len() == 0 {
			start = lineNum
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
		}
		if cont, ok := strings.CutSuffix(line, `\`); ok {
			pending.WriteString(cont)
			pending.WriteByte(' ')
			continue
		}
		pending.WriteString(line)
		info.add(strings.TrimSpace(pending.String()), start)
		pending.Reset()
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if pending.Len() > 0 {
		info.add(strings.TrimSpace(pending.String()), start)
	}
	return info, nil
}

func (d *dockerfileInfo) add(line string, lineNum int) {
	if m := fromRe.FindStringSubmatch(line); m != nil {
		d.Stages = append(d.Stages, dockerStage{BaseImage: m[1], Name: m[2], Line: lineNum})
		return
	}
	if m := argRe.FindStringSubmatch(line); m != nil {
		d.Args = append(d.Args, m[1])
		return
	}
	if m := exposeRe.FindStringSubmatch(line); m != nil {
		d.Expose = append(d.Expose, strings.Fields(m[1])...)
		return
	}
	if m := labelRe.FindStringSubmatch(line); m != nil {
		for _, kv := range labelKVRe.FindAllStringSubmatch(m[1], -1) {
			d.Labels[strings.Trim(kv[1], `"`)] = strings.Trim(kv[2], `"`)
		}
	}
}

// inspectDockerfile reads a Dockerfile and contributes its base image,
// parent images, exposed ports and labels. Arguments:
//
//	path: Dockerfile     # relative to the work dir
type inspectDockerfile struct {
	dir string
}

func (p *inspectDockerfile) Run(_ context.Context, _ *build.Context, args *pipeline.Map) (*build.Contribution, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = "Dockerfile"
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.dir, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dockerfile: %w", err)
	}
	defer f.Close()

	info, err := parseDockerfile(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(info.Stages) == 0 {
		return nil, fmt.Errorf("%s: no FROM instruction", path)
	}

	return &build.Contribution{
		Labels: info.Labels,
		Values: map[string]pipeline.Value{
			"base_image":    pipeline.String(info.BaseImage()),
			"parent_images": pipeline.Strings(info.ParentImages()...),
			"build_args":    pipeline.Strings(info.Args...),
			"exposed_ports": pipeline.Strings(info.Expose...),
		},
	}, nil
}
