// Package cmdrun 通过接口调用外部程序，测试时无需安装对应二进制。
package cmdrun

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner 执行命令并返回标准输出。
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Exec 基于 os/exec 执行命令。
type Exec struct{}

var _ Runner = Exec{}

// Run 执行命令，失败时把 stderr 带入错误信息。
func (Exec) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}
