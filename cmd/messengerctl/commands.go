package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matheus3301/messenger/internal/api"
	"github.com/matheus3301/messenger/internal/auth"
	"github.com/matheus3301/messenger/internal/chat"
	"github.com/matheus3301/messenger/internal/client"
	"github.com/matheus3301/messenger/internal/lock"
	"github.com/matheus3301/messenger/internal/session"
	"github.com/spf13/cobra"
)

func statusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show profile status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ctx, done, err := g.dial(cmd)
			if err != nil {
				return err
			}
			defer done()
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			g.print(st, func() {
				fmt.Printf("Profile: %s\n", st.Profile)
				fmt.Printf("Status:  %s\n", st.Status)
				fmt.Printf("Uptime:  %s\n", time.Duration(st.UptimeMS)*time.Millisecond)
				if st.Identity != nil {
					fmt.Printf("User:    %s <%s>\n", st.Identity.DisplayName, st.Identity.Address)
				}
			})
			return nil
		},
	}
}

func loginCmd(g *globals) *cobra.Command {
	var p auth.Profile
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Complete a login with the profile an identity provider returned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ctx, done, err := g.dial(cmd)
			if err != nil {
				return err
			}
			defer done()
			id, err := c.Login(ctx, p)
			if err != nil {
				return err
			}
			g.print(id, func() { fmt.Printf("Logged in as %s (%s)\n", id.DisplayName, id.SafeID) })
			return nil
		},
	}
	cmd.Flags().StringVar(&p.Address, "address", "", "email address")
	cmd.Flags().StringVar(&p.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&p.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&p.AvatarURL, "avatar-url", "", "profile picture to store on first login")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func logoutCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the signed-in identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ctx, done, err := g.dial(cmd)
			if err != nil {
				return err
			}
			defer done()
			if err := c.Logout(ctx); err != nil {
				return err
			}
			fmt.Println("Logged out.")
			return nil
		},
	}
}

func printUsers(g *globals, users []chat.DirectoryEntry) {
	g.print(users, func() {
		if len(users) == 0 {
			fmt.Println("No users found.")
			return
		}
		for _, u := range users {
			fmt.Printf("%-30s %s\n", printable(u.Name), u.Email)
		}
	})
}

func usersCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List the user directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ctx, done, err := g.dial(cmd)
			if err != nil {
				return err
			}
			defer done()
			users, err := c.Users(ctx)
			if err != nil {
				return err
			}
			printUsers(g, users)
			return nil
		},
	}
}

func searchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "search <term>",
		Short: "Find users whose name starts with term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, done, err := g.dial(cmd)
			if err != nil {
				return err
			}
			defer done()
			users, err := c.Search(ctx, args[0])
			if err != nil {
				return err
			}
			printUsers(g, users)
			return nil
		},
	}
}

func existsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <address>",
		Short: "Report whether an address is registered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, done, err := g.dial(cmd)
			if err != nil {
				return err
			}
			defer done()
			ok, err := c.UserExists(ctx, args[0])
			if err != nil {
				return err
			}
			g.print(api.ExistsResponse{Exists: ok}, func() { fmt.Println(ok) })
			return nil
		},
	}
}

func openCmd(g *globals) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "open <address> <text>...",
		Short: "Start a conversation with a first message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, done, err := g.dial(cmd)
			if err != nil {
				return err
			}
			defer done()
			resp, err := c.CreateConversation(ctx, api.CreateConversationRequest{
				OtherAddress: args[0],
				DisplayName:  name,
				Text:         strings.Join(args[1:], " "),
			})
			if err != nil && !client.IsPartial(err) {
				return err
			}
			g.print(resp, func() {
				fmt.Printf("Conversation: %s\n", resp.ID)
				printSteps(resp.Steps)
			})
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "title of the conversation in your list")
	return cmd
}

func withCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "with <address>",
		Short: "Print the id of the conversation held with address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, done, err := g.dial(cmd)
			if err != nil {
				return err
			}
			defer done()
			id, err := c.ConversationWith(ctx, args[0])
			if err != nil {
				return err
			}
			g.print(api.ConversationRef{ID: id}, func() { fmt.Println(id) })
			return nil
		},
	}
}

func printSend(g *globals, resp api.SendResponse, err error) error {
	if err != nil && !client.IsPartial(err) {
		return err
	}
	g.print(resp, func() {
		fmt.Printf("Sent: %s\n", resp.MessageID)
		printSteps(resp.Steps)
	})
	return err
}

func printSteps(steps []chat.Step) {
	for _, s := range steps {
		line := fmt.Sprintf("  %-18s %s", s.Name, s.Outcome)
		if s.Error != "" {
			line += ": " + s.Error
		}
		fmt.Println(line)
	}
}

func sendCmd(g *globals) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "send <conversation-id> <other-id> <text>...",
		Short: "Send a text message",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, done, err := g.dial(cmd)
			if err != nil {
				return err
			}
			defer done()
			resp, err := c.SendText(ctx, args[0], api.SendTextRequest{
				OtherID:     args[1],
				DisplayName: name,
				Text:        strings.Join(args[2:], " "),
			})
			return printSend(g, resp, err)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "conversation title")
	return cmd
}

func photoCmd(g *globals) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "photo <conversation-id> <other-id> <file>",
		Short: "Upload an image and send it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[2])
			if err != nil {
				return err
			}
			defer f.Close()
			c, ctx, done, err := g.dial(cmd)
			if err != nil {
				return err
			}
			defer done()
			resp, err := c.SendPhoto(ctx, args[0], args[1], name, f)
			return printSend(g, resp, err)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "conversation title")
	return cmd
}

func videoCmd(g *globals) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "video <conversation-id> <other-id> <file>",
		Short: "Upload a clip and send it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, done, err := g.dial(cmd)
			if err != nil {
				return err
			}
			defer done()
			resp, err := c.SendVideo(ctx, args[0], args[1], name, args[2])
			return printSend(g, resp, err)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "conversation title")
	return cmd
}

func deleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Remove a conversation from your list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, done, err := g.dial(cmd)
			if err != nil {
				return err
			}
			defer done()
			removed, err := c.DeleteConversation(ctx, args[0])
			if err != nil {
				return err
			}
			g.print(api.DeleteResponse{Removed: removed}, func() {
				if removed {
					fmt.Println("Deleted.")
				} else {
					fmt.Println("Not in your list.")
				}
			})
			return nil
		},
	}
}

func orphansCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "orphans <conversation-id> <other-id>",
		Short: "Show what remains of a conversation beyond your summary",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, done, err := g.dial(cmd)
			if err != nil {
				return err
			}
			defer done()
			r, err := c.Orphans(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			g.print(r, func() {
				fmt.Printf("Your summary:   %v\n", r.CallerSummary)
				fmt.Printf("Their summary:  %v\n", r.MirrorSummary)
				fmt.Printf("Messages:       %v\n", r.Messages)
				fmt.Printf("Orphaned:       %v\n", r.Orphaned())
			})
			return nil
		},
	}
}

func watchCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream a feed until interrupted",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "conversations",
			Short: "Stream your conversation list",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				name, err := g.resolveProfile()
				if err != nil {
					return err
				}
				c := client.New(session.SocketPath(name))
				defer func() { _ = c.Close() }()
				s, err := c.WatchConversations(cmd.Context())
				if err != nil {
					return err
				}
				defer func() { _ = s.Close() }()
				for f := range s.Frames() {
					g.print(f, func() {
						fmt.Printf("-- %s\n", f.At.Format(time.RFC3339))
						if f.Error != "" {
							fmt.Printf("   (%s)\n", f.Error)
						}
						for _, conv := range f.Items {
							fmt.Printf("%-24s %-40s %s\n", printable(conv.Name), printable(conv.LatestMessage.Text), conv.ID)
						}
					})
				}
				return s.Err()
			},
		},
		&cobra.Command{
			Use:   "messages <conversation-id>",
			Short: "Stream the messages of a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name, err := g.resolveProfile()
				if err != nil {
					return err
				}
				c := client.New(session.SocketPath(name))
				defer func() { _ = c.Close() }()
				s, err := c.WatchMessages(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				defer func() { _ = s.Close() }()
				for f := range s.Frames() {
					g.print(f, func() {
						fmt.Printf("-- %s\n", f.At.Format(time.RFC3339))
						if f.Error != "" {
							fmt.Printf("   (%s)\n", f.Error)
						}
						for _, m := range f.Items {
							body := m.Text
							if m.MediaURL != "" {
								body = "[" + m.Kind + "] " + m.MediaURL
							}
							fmt.Printf("%s  %-20s %s\n", m.SentAt.Format(time.Kitchen), printable(m.SenderName), printable(body))
						}
					})
				}
				return s.Err()
			},
		},
	)
	return cmd
}

func profilesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List known profiles and whether a daemon serves them",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			type profileInfo struct {
				Name    string `json:"name"`
				Path    string `json:"path"`
				Running bool   `json:"running"`
				PID     int    `json:"pid,omitempty"`
			}
			entries, err := os.ReadDir(filepath.Join(session.BaseDir(), "profiles"))
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			var out []profileInfo
			for _, e := range entries {
				if !e.IsDir() || session.ValidateName(e.Name()) != nil {
					continue
				}
				info := profileInfo{Name: e.Name(), Path: session.Dir(e.Name())}
				if lock.Held(session.LockPath(e.Name())) {
					info.Running = true
					if o, err := lock.ReadOwner(session.LockPath(e.Name())); err == nil {
						info.PID = o.PID
					}
				}
				out = append(out, info)
			}
			g.print(out, func() {
				if len(out) == 0 {
					fmt.Println("No profiles found.")
					return
				}
				for _, p := range out {
					state := "stopped"
					if p.Running {
						state = fmt.Sprintf("running, pid %d", p.PID)
					}
					fmt.Printf("%-20s %s (%s)\n", p.Name, p.Path, state)
				}
			})
			return nil
		},
	}
}
