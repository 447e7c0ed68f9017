package ethereum

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAutoApprover(t *testing.T) {
	assert.True(t, AutoApprover{}.Approve(context.Background(), testDescriptor()))
}

func TestPromptApprover(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes", "y\n", true},
		{"yes word", "Yes\n", true},
		{"padded", "  y  \n", true},
		{"no", "n\n", false},
		{"empty line", "\n", false},
		{"anything else", "sure\n", false},
		{"end of input", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewPromptApprover(strings.NewReader(tt.input), &out)
			assert.Equal(t, tt.want, p.Approve(context.Background(), testDescriptor()))
			assert.Contains(t, out.String(), "1.000000 ETH")
			assert.Contains(t, out.String(), "0x3535353535353535353535353535353535353535")
			assert.Contains(t, out.String(), "Approve? [y/N]")
		})
	}
}

func TestPromptApproverSequence(t *testing.T) {
	var out bytes.Buffer
	p := NewPromptApprover(strings.NewReader("y\nn\n"), &out)

	assert.True(t, p.Approve(context.Background(), testDescriptor()))
	assert.False(t, p.Approve(context.Background(), testDescriptor()))
	assert.False(t, p.Approve(context.Background(), testDescriptor()), "input exhausted")
}

func TestPromptApproverShowsData(t *testing.T) {
	var out bytes.Buffer
	p := NewPromptApprover(strings.NewReader("n\n"), &out)

	desc := testDescriptor()
	desc.Data = "0xa9059cbb"
	p.Approve(context.Background(), desc)
	assert.Contains(t, out.String(), "0xa9059cbb")
	assert.Contains(t, out.String(), "21000")
}

func TestPromptApproverContextDone(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	var out bytes.Buffer
	p := NewPromptApprover(r, &out)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.False(t, p.Approve(ctx, testDescriptor()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestFormatEther(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"0x0", "0.000000 ETH"},
		{"0xde0b6b3a7640000", "1.000000 ETH"},
		{"0x6f05b59d3b20000", "0.500000 ETH"},
		{"0x1bc16d674ec80000", "2.000000 ETH"},
		{"garbage", "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatEther(tt.value))
		})
	}
}
