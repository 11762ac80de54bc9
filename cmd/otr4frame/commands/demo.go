package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stalker-loki/braceratchet"
)

func demoCmd() *cobra.Command {
	var (
		messages int
		dbPath   string
		verbose  bool
		pad      bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a local two-party conversation and print the frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			alice, bob, err := handshake(pad)
			if err != nil {
				return err
			}

			var storage braceratchet.SessionStorage = braceratchet.NewSessionStorageInMemory(braceratchet.WithLogger(log))
			if dbPath != "" {
				bs, err := braceratchet.NewBoltSessionStorage(dbPath, braceratchet.WithLogger(log))
				if err != nil {
					return err
				}
				defer bs.Close()
				storage = bs
			}

			w := cmd.OutOrStdout()
			ssid := alice.KeyManager().SSID()
			fmt.Fprintf(w, "SSID: %x\n", ssid[:])

			for n := 0; n < messages; n++ {
				from, to, name := alice, bob, "alice"
				// Two messages per turn so that chains advance as well as ratchets.
				if (n/2)%2 == 1 {
					from, to, name = bob, alice, "bob"
				}

				pt := fmt.Sprintf("message %d from %s", n, name)
				frame, err := from.Send([]byte(pt), 0)
				if err != nil {
					return err
				}
				got, err := to.Receive(frame)
				if err != nil {
					return err
				}
				i, _ := from.KeyManager().Counters()
				fmt.Fprintf(w, "%s ratchet=%d %q\n", name, i, got.Message)
				if verbose {
					fmt.Fprintln(w, hex.EncodeToString(frame))
				}

				// Park both sides between turns.
				if err := park(storage, "alice", alice); err != nil {
					return err
				}
				if err := park(storage, "bob", bob); err != nil {
					return err
				}
			}

			frame, err := alice.Disconnect()
			if err != nil {
				return err
			}
			got, err := bob.Receive(frame)
			if err != nil {
				return err
			}
			if _, ok := got.Find(braceratchet.TLVDisconnected); ok {
				fmt.Fprintln(w, "alice disconnected")
			}

			mk := alice.KeyManager().SerializeOldMACKeys()
			fmt.Fprintf(w, "alice revealed %d spent mac keys\n", len(mk)/braceratchet.MACKeySize)
			return nil
		},
	}

	cmd.Flags().IntVarP(&messages, "messages", "n", 12, "number of messages to exchange")
	cmd.Flags().StringVar(&dbPath, "db", "", "park sessions in this BoltDB file between turns")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every frame in hex")
	cmd.Flags().BoolVar(&pad, "pad", false, "pad every payload to a multiple of 256 bytes")
	return cmd
}

func handshake(pad bool) (*braceratchet.Conversation, *braceratchet.Conversation, error) {
	a, err := braceratchet.New(braceratchet.WithLogger(log))
	if err != nil {
		return nil, nil, err
	}
	b, err := braceratchet.New(braceratchet.WithLogger(log))
	if err != nil {
		return nil, nil, err
	}
	if err := a.SetTheirKeys(b.OurECDH(), b.OurDH()); err != nil {
		return nil, nil, err
	}
	if err := b.SetTheirKeys(a.OurECDH(), a.OurDH()); err != nil {
		return nil, nil, err
	}
	if err := a.Init(1, true); err != nil {
		return nil, nil, err
	}
	if err := b.Init(0, true); err != nil {
		return nil, nil, err
	}

	aTag, err := braceratchet.GenerateInstanceTag(nil)
	if err != nil {
		return nil, nil, err
	}
	bTag, err := braceratchet.GenerateInstanceTag(nil)
	if err != nil {
		return nil, nil, err
	}
	var opts []braceratchet.ConversationOption
	if pad {
		opts = append(opts, braceratchet.WithPadding())
	}
	alice, err := braceratchet.NewConversation(a, aTag, bTag, opts...)
	if err != nil {
		return nil, nil, err
	}
	bob, err := braceratchet.NewConversation(b, bTag, aTag, opts...)
	if err != nil {
		return nil, nil, err
	}
	return alice, bob, nil
}

// park saves the key manager of c and replaces it with the stored copy.
func park(s braceratchet.SessionStorage, id string, c *braceratchet.Conversation) error {
	if err := s.Save([]byte(id), c.KeyManager()); err != nil {
		return err
	}
	km, err := s.Load([]byte(id))
	if err != nil {
		return err
	}
	return c.Resume(km)
}
