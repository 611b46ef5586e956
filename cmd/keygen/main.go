// Command keygen generates an epoch committee: one BLS protocol key and one
// secp256k1 transaction key per authority, a shared committee file, and a
// per-authority .env secrets file for cmd/node.
package main

import (
	crand "crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/daehankim/dagwave/params"
	"github.com/daehankim/dagwave/pkg/crypto"
)

func main() {
	var (
		n      = flag.Int("n", 4, "number of authorities")
		stake  = flag.Uint64("stake", 1, "stake per authority")
		epoch  = flag.Uint64("epoch", 0, "epoch number")
		out    = flag.String("out", "committee.json", "committee file path")
		secret = flag.String("secrets", ".", "directory for per-authority env files")
		host   = flag.String("host", "/ip4/127.0.0.1/tcp/%d", "hostname pattern, %d = 9000+index")
	)
	flag.Parse()

	if *n < 1 {
		fatal("need at least one authority")
	}
	if err := os.MkdirAll(*secret, 0755); err != nil {
		fatal("create secrets dir: %v", err)
	}

	file := &params.CommitteeFile{
		Epoch: *epoch,
		Seed:  hex.EncodeToString(randomBytes(32)),
	}

	for i := 0; i < *n; i++ {
		ikm := randomBytes(32)
		bls, err := crypto.NewBLSSigner(ikm)
		if err != nil {
			fatal("bls keygen: %v", err)
		}
		ecdsa, err := crypto.GenerateKey()
		if err != nil {
			fatal("ecdsa keygen: %v", err)
		}

		file.Authorities = append(file.Authorities, params.CommitteeAuthority{
			Stake:    *stake,
			BLSKey:   hex.EncodeToString(bls.PubkeyBytes()),
			Address:  ecdsa.Address().Hex(),
			Hostname: fmt.Sprintf(*host, 9000+i),
		})

		envPath := filepath.Join(*secret, fmt.Sprintf("authority-%d.env", i))
		env := fmt.Sprintf(
			"DAGWAVE_AUTHORITY_INDEX=%d\nDAGWAVE_COMMITTEE_FILE=%s\nDAGWAVE_BLS_SECRET=%s\nDAGWAVE_ECDSA_KEY=%s\n",
			i, *out, hex.EncodeToString(ikm), ecdsa.PrivateKeyHex())
		if err := os.WriteFile(envPath, []byte(env), 0600); err != nil {
			fatal("write %s: %v", envPath, err)
		}
		fmt.Printf("authority %d: bls=%s addr=%s secrets=%s\n",
			i, hex.EncodeToString(bls.PubkeyBytes())[:16], ecdsa.Address().Hex(), envPath)
	}

	if err := params.SaveCommittee(*out, file); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("committee of %d written to %s (epoch %d)\n", *n, *out, *epoch)
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := crand.Read(b); err != nil {
		fatal("entropy: %v", err)
	}
	return b
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "keygen: "+format+"\n", args...)
	os.Exit(1)
}
