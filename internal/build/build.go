package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/sirupsen/logrus"
	"github.com/spinplugins/plugin-release/internal/config"
	"github.com/spinplugins/plugin-release/internal/platform"
)

// Invocation is a fully resolved compiler call.
type Invocation struct {
	Args   []string
	Env    []string
	Dir    string
	Output string
}

// Builder compiles the plugin binary for the targets of a project.
type Builder struct {
	log     *logrus.Logger
	project *config.Project
	dir     string
	environ func() []string
}

func NewBuilder(log *logrus.Logger, project *config.Project, dir string) *Builder {
	return &Builder{
		log:     log,
		project: project,
		dir:     dir,
		environ: os.Environ,
	}
}

// LinkerEnv is the variable cargo reads the cross linker of triple from.
func LinkerEnv(triple string) string {
	return fmt.Sprintf("CARGO_TARGET_%s_LINKER", strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(triple)))
}

func appendEnv(env []string, vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}

func (b *Builder) outputDir(target *config.Target, native bool) (string, error) {
	dirTmpl := b.project.Build.OutputDir
	if native {
		dirTmpl = b.project.Build.HostOutputDir
	}
	tmpl, err := template.New("output").Option("missingkey=error").Parse(dirTmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, target); err != nil {
		return "", fmt.Errorf("failed to render output dir: %w", err)
	}
	dir := buf.String()
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(b.dir, dir)
	}
	return dir, nil
}

// Command composes the compiler invocation for target. Native builds skip
// the target flag and the cross linker.
func (b *Builder) Command(target *config.Target, native bool) (*Invocation, error) {
	if len(b.project.Build.Command) == 0 {
		return nil, fmt.Errorf("build command is empty")
	}
	args := append([]string(nil), b.project.Build.Command...)
	if !native {
		if target.Triple == "" {
			return nil, fmt.Errorf("target %s has no triple", target.Platform())
		}
		args = append(args, b.project.Build.TargetFlag, target.Triple)
	}
	args = append(args, target.Args...)

	env := append([]string(nil), b.environ()...)
	env = appendEnv(env, b.project.Build.Env)
	env = appendEnv(env, target.Env)
	if !native && target.Linker != "" {
		env = append(env, LinkerEnv(target.Triple)+"="+target.Linker)
	}

	outDir, err := b.outputDir(target, native)
	if err != nil {
		return nil, err
	}
	return &Invocation{
		Args:   args,
		Env:    env,
		Dir:    b.dir,
		Output: filepath.Join(outDir, b.project.Binary+target.Platform().ExeSuffix()),
	}, nil
}

// Output is where a cross build of target leaves the binary.
func (b *Builder) Output(target *config.Target) (string, error) {
	inv, err := b.Command(target, false)
	if err != nil {
		return "", err
	}
	return inv.Output, nil
}

func (b *Builder) run(ctx context.Context, inv *Invocation) (string, error) {
	b.log.Infof("running %s", strings.Join(inv.Args, " "))
	cmd := exec.CommandContext(ctx, inv.Args[0], inv.Args[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = inv.Env
	stdout := b.log.WriterLevel(logrus.InfoLevel)
	defer stdout.Close()
	stderr := b.log.WriterLevel(logrus.WarnLevel)
	defer stderr.Close()
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("build failed: %w", err)
	}
	stat, err := os.Stat(inv.Output)
	if err != nil {
		return "", fmt.Errorf("build output %s is missing: %w", inv.Output, err)
	}
	if stat.IsDir() {
		return "", fmt.Errorf("build output %s is a directory", inv.Output)
	}
	return inv.Output, nil
}

// Build cross compiles target and returns the path of the binary.
func (b *Builder) Build(ctx context.Context, target *config.Target) (string, error) {
	inv, err := b.Command(target, false)
	if err != nil {
		return "", err
	}
	b.log.Infof("building %s (%s)", target.Platform(), target.Triple)
	return b.run(ctx, inv)
}

// BuildHost compiles natively for the machine running the build.
func (b *Builder) BuildHost(ctx context.Context) (string, platform.Platform, error) {
	host, err := platform.Host()
	if err != nil {
		return "", platform.Platform{}, err
	}
	target, ok := b.project.Target(host)
	if !ok {
		target = &config.Target{OS: host.OS, Arch: host.Arch}
	}
	inv, err := b.Command(target, true)
	if err != nil {
		return "", platform.Platform{}, err
	}
	b.log.Infof("building %s for the host", host)
	out, err := b.run(ctx, inv)
	return out, host, err
}
