// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-shw.
//
// go-shw is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jeremyhahn/go-shw/pkg/shw"
	"github.com/jeremyhahn/go-shw/pkg/types"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// CipherOutput is the result of an encrypt or decrypt command.
type CipherOutput struct {
	Algorithm string
	Mode      string
	Data      []byte
	Tag       []byte
	Context   []byte
}

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintDigest prints a hash or MAC value
func (p *Printer) PrintDigest(kind, algorithm string, digest []byte) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"algorithm": algorithm,
			kind:        hex.EncodeToString(digest),
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, hex.EncodeToString(digest))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintCipher prints the output of a symmetric or CCM request
func (p *Printer) PrintCipher(out *CipherOutput) error {
	switch p.format {
	case OutputFormatJSON:
		data := map[string]interface{}{
			"algorithm": out.Algorithm,
			"mode":      out.Mode,
			"data":      hex.EncodeToString(out.Data),
		}
		if out.Tag != nil {
			data["tag"] = hex.EncodeToString(out.Tag)
		}
		if out.Context != nil {
			data["context"] = hex.EncodeToString(out.Context)
		}
		return p.printJSON(data)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Data:    %s\n", hex.EncodeToString(out.Data))
		if out.Tag != nil {
			fmt.Fprintf(p.writer, "Tag:     %s\n", hex.EncodeToString(out.Tag))
		}
		if out.Context != nil {
			fmt.Fprintf(p.writer, "Context: %s\n", hex.EncodeToString(out.Context))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintRandom prints random bytes
func (p *Printer) PrintRandom(data []byte) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"random": hex.EncodeToString(data),
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, hex.EncodeToString(data))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintWrappedKey prints a PEM encoded wrapped key
func (p *Printer) PrintWrappedKey(owner types.OwnerID, alg types.KeyAlgorithm, pemData []byte) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"owner":     fmt.Sprintf("%#x", uint64(owner)),
			"algorithm": alg.String(),
			"pem":       string(pemData),
		})
	case OutputFormatText:
		fmt.Fprint(p.writer, string(pemData))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintKey prints key material recovered by unwrap. A nil key means the
// blob authenticated but the key may not be read.
func (p *Printer) PrintKey(alg types.KeyAlgorithm, key []byte, length int) error {
	switch p.format {
	case OutputFormatJSON:
		data := map[string]interface{}{
			"algorithm": alg.String(),
			"length":    length,
			"readable":  key != nil,
		}
		if key != nil {
			data["key"] = hex.EncodeToString(key)
		}
		return p.printJSON(data)
	case OutputFormatText:
		if key == nil {
			fmt.Fprintf(p.writer, "%s key of %d bytes authenticated (not readable)\n", alg, length)
			return nil
		}
		fmt.Fprintln(p.writer, hex.EncodeToString(key))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintCapabilities prints what the request layer supports
func (p *Printer) PrintCapabilities(caps shw.Capabilities) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"hash_algorithms": names(caps.HashAlgorithms),
			"key_algorithms":  names(caps.KeyAlgorithms),
			"modes":           names(caps.Modes),
			"burst_width":     caps.BurstWidth,
			"pool_size":       caps.PoolSize,
			"max_hmac_key":    caps.MaxHMACKey,
			"max_wrapped_key": caps.MaxWrappedKey,
			"ccm_nonce":       caps.CCMNonce,
			"ccm_mac":         caps.CCMMAC,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, "Capabilities:")
		fmt.Fprintf(p.writer, "  Hash Algorithms: %s\n", strings.Join(names(caps.HashAlgorithms), ", "))
		fmt.Fprintf(p.writer, "  Key Algorithms:  %s\n", strings.Join(names(caps.KeyAlgorithms), ", "))
		fmt.Fprintf(p.writer, "  Cipher Modes:    %s\n", strings.Join(names(caps.Modes), ", "))
		fmt.Fprintf(p.writer, "  Burst Width:     %d\n", caps.BurstWidth)
		fmt.Fprintf(p.writer, "  Pool Size:       %d\n", caps.PoolSize)
		fmt.Fprintf(p.writer, "  Max HMAC Key:    %d\n", caps.MaxHMACKey)
		fmt.Fprintf(p.writer, "  Max Wrapped Key: %d\n", caps.MaxWrappedKey)
		fmt.Fprintf(p.writer, "  CCM Nonce:       %d-%d\n", caps.CCMNonce[0], caps.CCMNonce[1])
		fmt.Fprintf(p.writer, "  CCM MAC:         %d-%d\n", caps.CCMMAC[0], caps.CCMMAC[1])
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func names[T fmt.Stringer](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out
}
