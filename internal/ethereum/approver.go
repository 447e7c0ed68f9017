package ethereum

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/params"

	"github.com/sserrano44/GibberWallet/internal/message"
)

// AutoApprover approves every request. Only meant for demos and tests.
type AutoApprover struct{}

// Approve implements orchestrator.Approver
func (AutoApprover) Approve(context.Context, message.TxDescriptor) bool {
	return true
}

// PromptApprover shows each request on out and reads a y/n answer from in
type PromptApprover struct {
	out     io.Writer
	lines   chan string
	once    sync.Once
	scanner *bufio.Scanner
	mu      sync.Mutex
}

// NewPromptApprover creates an approver reading answers from in
func NewPromptApprover(in io.Reader, out io.Writer) *PromptApprover {
	return &PromptApprover{
		out:     out,
		lines:   make(chan string),
		scanner: bufio.NewScanner(in),
	}
}

// Approve prints the request and blocks until an answer is read or ctx is done.
// Anything other than y or yes is a rejection.
func (p *PromptApprover) Approve(ctx context.Context, desc message.TxDescriptor) bool {
	p.once.Do(func() { go p.readLines() })

	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.out, "Transaction signing request")
	fmt.Fprintf(p.out, "  chain:     %s\n", quantity(desc.ChainID))
	fmt.Fprintf(p.out, "  to:        %s\n", desc.To)
	fmt.Fprintf(p.out, "  value:     %s\n", FormatEther(desc.Value))
	fmt.Fprintf(p.out, "  nonce:     %s\n", quantity(desc.Nonce))
	fmt.Fprintf(p.out, "  gas limit: %s\n", quantity(desc.GasLimit))
	fmt.Fprintf(p.out, "  gas price: %s wei\n", quantity(desc.GasPrice))
	if desc.Data != "" && desc.Data != "0x" {
		fmt.Fprintf(p.out, "  data:      %s\n", desc.Data)
	}
	fmt.Fprint(p.out, "Approve? [y/N]: ")

	select {
	case line, ok := <-p.lines:
		if !ok {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false
	}
}

func (p *PromptApprover) readLines() {
	defer close(p.lines)
	for p.scanner.Scan() {
		p.lines <- p.scanner.Text()
	}
}

// FormatEther renders a hex wei quantity in ether
func FormatEther(value string) string {
	wei, err := hexutil.DecodeBig(value)
	if err != nil {
		return value
	}
	eth := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether))
	return eth.Text('f', 6) + " ETH"
}

func quantity(value string) string {
	n, err := hexutil.DecodeBig(value)
	if err != nil {
		return value
	}
	return n.String()
}
