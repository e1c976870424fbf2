// Package docker runs throwaway service containers for integration tests.
package docker

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrUnavailable is returned by Start when the docker CLI is missing.
var ErrUnavailable = errors.New("docker: executable not found")

// Container describes one named test container. The zero value is not
// usable; Name, Image and Ports are required.
type Container struct {
	Name  string
	Image string
	Env   map[string]string

	// Ports maps host port to container port.
	Ports map[string]string

	// Ready is polled until it returns nil or ReadyTimeout passes.
	Ready        func(ctx context.Context) error
	ReadyTimeout time.Duration

	once     sync.Once
	startErr error
	started  bool
}

// Start launches the container once per process. Later calls return the
// first result.
func (c *Container) Start() error {
	c.once.Do(func() {
		if _, err := exec.LookPath("docker"); err != nil {
			c.startErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			return
		}
		_ = c.stop()
		if err := run(c.runArgs()...); err != nil {
			c.startErr = err
			return
		}
		c.started = true
		if err := c.waitReady(); err != nil {
			c.startErr = err
		}
	})
	return c.startErr
}

// Stop removes the container if Start launched it.
func (c *Container) Stop() error {
	if !c.started {
		return c.startErr
	}
	return c.stop()
}

func (c *Container) runArgs() []string {
	args := []string{"run", "-d", "--rm", "--name", c.Name}
	for k, v := range c.Env {
		args = append(args, "-e", k+"="+v)
	}
	for host, ctr := range c.Ports {
		args = append(args, "-p", host+":"+ctr)
	}
	return append(args, c.Image)
}

func (c *Container) waitReady() error {
	if c.Ready == nil {
		return nil
	}
	timeout := c.ReadyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	var last error
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		last = c.Ready(ctx)
		cancel()
		if last == nil {
			return nil
		}
		time.Sleep(150 * time.Millisecond)
	}
	return fmt.Errorf("docker: %s not ready after %s: %w", c.Name, timeout, last)
}

func (c *Container) stop() error {
	out, err := exec.Command("docker", "stop", c.Name).CombinedOutput()
	if err != nil {
		if strings.Contains(string(out), "No such container") {
			return nil
		}
		return fmt.Errorf("docker stop %s: %w: %s", c.Name, err, out)
	}
	return nil
}

func run(args ...string) error {
	out, err := exec.Command("docker", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker %s: %w: %s", args[0], err, out)
	}
	return nil
}
