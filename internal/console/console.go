// Package console implements the "press any key" pause that keeps the
// launcher window open after the application exits.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Prompt is printed before waiting for input.
const Prompt = "Press any key to continue . . . "

// Pauser blocks until the user acknowledges.
type Pauser interface {
	Pause() error
}

// Console pauses on In and prints the prompt to Out.
type Console struct {
	In  io.Reader
	Out io.Writer
}

// New returns a Console bound to the process stdin and stdout.
func New() *Console {
	return &Console{In: os.Stdin, Out: os.Stdout}
}

// Pause prints Prompt and waits. On a terminal a single keypress is enough;
// otherwise it reads one line. End of input counts as acknowledgement.
func (c *Console) Pause() error {
	if _, err := fmt.Fprint(c.Out, Prompt); err != nil {
		return fmt.Errorf("failed to write prompt: %w", err)
	}
	defer fmt.Fprintln(c.Out)

	if f, ok := c.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return readKey(f)
	}
	return readLine(c.In)
}

func readKey(f *os.File) error {
	state, err := term.MakeRaw(int(f.Fd()))
	if err != nil {
		return readLine(f)
	}
	defer func() { _ = term.Restore(int(f.Fd()), state) }()

	var b [1]byte
	if _, err := f.Read(b[:]); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read key: %w", err)
	}
	return nil
}

func readLine(r io.Reader) error {
	if r == nil {
		return nil
	}
	if _, err := bufio.NewReader(r).ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}
