// Package ui implements the Gio desktop interface for Parley.
package ui

import (
	"fmt"
	"image/color"
	"time"

	"gioui.org/layout"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"github.com/parley-chat/parley/pkg/client"
	"github.com/parley-chat/parley/pkg/protocol"
)

// WindowInvalidator is the subset of *app.Window the UI needs
type WindowInvalidator interface {
	Invalidate()
}

var (
	accentColor   = color.NRGBA{R: 100, G: 149, B: 237, A: 255}
	neutralColor  = color.NRGBA{R: 240, G: 240, B: 240, A: 255}
	borderColor   = color.NRGBA{R: 200, G: 200, B: 200, A: 255}
	mutedTextGray = color.NRGBA{R: 100, G: 100, B: 100, A: 255}
	errorRed      = color.NRGBA{R: 200, G: 40, B: 40, A: 255}
	white         = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	black         = color.NRGBA{A: 255}
)

// App is the top-level GUI state
type App struct {
	conn    *client.Connection
	state   *client.State
	replica *client.Replica
	theme   *material.Theme
	window  WindowInvalidator

	authenticated bool
	loginError    string
	connStatus    string

	// Login form
	usernameEditor widget.Editor
	passwordEditor widget.Editor
	loginBtn       widget.Clickable
	registerBtn    widget.Clickable

	// Chat view
	channelButtons []widget.Clickable
	channelList    widget.List
	messageList    widget.List
	messageEditor  widget.Editor
	sendBtn        widget.Clickable

	// Remembered so a reconnect can restore the session
	username string
	password string
}

// NewApp builds the GUI state around an already-dialed connection
func NewApp(conn *client.Connection, state *client.State, theme *material.Theme, window WindowInvalidator) *App {
	a := &App{
		conn:       conn,
		state:      state,
		replica:    client.NewReplica(),
		theme:      theme,
		window:     window,
		connStatus: "connected",
		usernameEditor: widget.Editor{
			SingleLine: true,
			Submit:     true,
		},
		passwordEditor: widget.Editor{
			SingleLine: true,
			Submit:     true,
			Mask:       '*',
		},
		messageEditor: widget.Editor{
			SingleLine: true,
			Submit:     true,
		},
		channelList: widget.List{List: layout.List{Axis: layout.Vertical}},
		messageList: widget.List{List: layout.List{Axis: layout.Vertical}},
	}
	if last := state.LastUsername(); last != "" {
		a.usernameEditor.SetText(last)
	}
	// Repaints ride on the replica's change notifications.
	a.replica.SetNotifier(a)
	return a
}

// Refresh implements client.Notifier
func (a *App) Refresh() {
	a.window.Invalidate()
}

// RefreshFor implements client.Notifier
func (a *App) RefreshFor(channelID uint64) {
	a.window.Invalidate()
}

// Start launches the background goroutine that feeds server frames
// into the replica.
func (a *App) Start() {
	go a.listenForFrames()
}

func (a *App) listenForFrames() {
	for {
		select {
		case frame, ok := <-a.conn.Incoming():
			if !ok {
				return
			}
			a.applyFrame(frame)
		case err := <-a.conn.Errors():
			if err != nil {
				a.connStatus = err.Error()
				a.window.Invalidate()
			}
		case update := <-a.conn.StateChanges():
			switch update.State {
			case client.StateTypeConnected:
				a.connStatus = "connected"
				if a.authenticated && a.username != "" {
					a.sendLogin(a.username, a.password, false)
				}
			case client.StateTypeDisconnected:
				a.connStatus = "disconnected"
			case client.StateTypeReconnecting:
				a.connStatus = fmt.Sprintf("reconnecting (attempt %d)", update.Attempt)
			}
			a.window.Invalidate()
		}
	}
}

func (a *App) applyFrame(frame *protocol.Frame) {
	if err := a.replica.Apply(frame); err != nil {
		return
	}

	switch frame.Type {
	case protocol.TypeLoginSucceeded:
		a.authenticated = true
		a.loginError = ""
		a.state.SetLastUsername(a.replica.Username())
		if a.replica.CurrentChannel() == 0 {
			if chs := a.replica.Channels(); len(chs) > 0 {
				a.replica.SetCurrentChannel(chs[0].ID)
			}
		}
	case protocol.TypeLoginFailed:
		if serr := a.replica.TakeError(); serr != nil {
			a.loginError = serr.Reason
		}
	case protocol.TypeRequestFailed:
		if serr := a.replica.TakeError(); serr != nil {
			a.connStatus = serr.Error()
		}
	}
	a.window.Invalidate()
}

func (a *App) sendLogin(username, password string, register bool) {
	a.conn.SendEvent(protocol.TypeLogin, &protocol.LoginEvent{
		Username: username,
		Password: password,
		Register: register,
	})
}

// Layout renders one frame
func (a *App) Layout(gtx layout.Context) layout.Dimensions {
	if !a.authenticated {
		return a.layoutLogin(gtx)
	}
	return a.layoutChat(gtx)
}

func (a *App) layoutLogin(gtx layout.Context) layout.Dimensions {
	submit := func(register bool) {
		username := a.usernameEditor.Text()
		password := a.passwordEditor.Text()
		if username == "" || password == "" {
			a.loginError = "username and password are required"
			return
		}
		a.username = username
		a.password = password
		a.loginError = ""
		a.sendLogin(username, password, register)
	}

	if a.loginBtn.Clicked(gtx) {
		submit(false)
	}
	if a.registerBtn.Clicked(gtx) {
		submit(true)
	}

	formWidth := gtx.Dp(unit.Dp(320))

	return layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		gtx.Constraints.Max.X = formWidth
		gtx.Constraints.Min.X = formWidth
		return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				title := material.H5(a.theme, "Parley")
				return layout.Inset{Bottom: unit.Dp(16)}.Layout(gtx, title.Layout)
			}),
			layout.Rigid(a.borderedEditor(&a.usernameEditor, "Username")),
			layout.Rigid(layout.Spacer{Height: unit.Dp(8)}.Layout),
			layout.Rigid(a.borderedEditor(&a.passwordEditor, "Password")),
			layout.Rigid(layout.Spacer{Height: unit.Dp(16)}.Layout),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				return layout.Flex{Axis: layout.Horizontal, Spacing: layout.SpaceBetween}.Layout(gtx,
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						btn := material.Button(a.theme, &a.registerBtn, "Register")
						btn.Background = neutralColor
						btn.Color = black
						return btn.Layout(gtx)
					}),
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						btn := material.Button(a.theme, &a.loginBtn, "Sign in")
						btn.Background = accentColor
						btn.Color = white
						return btn.Layout(gtx)
					}),
				)
			}),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				if a.loginError == "" {
					return layout.Dimensions{}
				}
				label := material.Body2(a.theme, a.loginError)
				label.Color = errorRed
				return layout.Inset{Top: unit.Dp(12)}.Layout(gtx, label.Layout)
			}),
		)
	})
}

// borderedEditor wraps an editor in the standard input chrome
func (a *App) borderedEditor(editor *widget.Editor, hint string) layout.Widget {
	return func(gtx layout.Context) layout.Dimensions {
		return widget.Border{Color: borderColor, Width: unit.Dp(1)}.Layout(gtx,
			func(gtx layout.Context) layout.Dimensions {
				return layout.UniformInset(unit.Dp(8)).Layout(gtx,
					material.Editor(a.theme, editor, hint).Layout)
			})
	}
}

func (a *App) layoutChat(gtx layout.Context) layout.Dimensions {
	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(a.layoutHeader),
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			return layout.Flex{Axis: layout.Horizontal}.Layout(gtx,
				layout.Rigid(a.layoutSidebar),
				layout.Flexed(1, a.layoutMessages),
			)
		}),
		layout.Rigid(a.layoutComposer),
	)
}

func (a *App) layoutHeader(gtx layout.Context) layout.Dimensions {
	left := "Parley"
	if ch, ok := a.replica.Channel(a.replica.CurrentChannel()); ok {
		left = fmt.Sprintf("Parley - #%s (%d members)", ch.Name, len(ch.Members))
	}

	return layout.Inset{Top: unit.Dp(8), Bottom: unit.Dp(8), Left: unit.Dp(12), Right: unit.Dp(12)}.Layout(gtx,
		func(gtx layout.Context) layout.Dimensions {
			return layout.Flex{Axis: layout.Horizontal, Spacing: layout.SpaceBetween}.Layout(gtx,
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					label := material.Body1(a.theme, left)
					label.Font.Weight = 700
					return label.Layout(gtx)
				}),
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					label := material.Caption(a.theme, a.connStatus)
					label.Color = mutedTextGray
					return label.Layout(gtx)
				}),
			)
		})
}

func (a *App) layoutSidebar(gtx layout.Context) layout.Dimensions {
	sidebarWidth := gtx.Constraints.Max.X / 4
	if sidebarWidth < 150 {
		sidebarWidth = 150
	}
	gtx.Constraints.Max.X = sidebarWidth
	gtx.Constraints.Min.X = sidebarWidth

	channels := a.replica.Channels()
	for len(a.channelButtons) < len(channels) {
		a.channelButtons = append(a.channelButtons, widget.Clickable{})
	}

	return layout.UniformInset(unit.Dp(8)).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return widget.Border{Color: borderColor, Width: unit.Dp(1)}.Layout(gtx,
			func(gtx layout.Context) layout.Dimensions {
				return layout.UniformInset(unit.Dp(8)).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
					return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
						layout.Rigid(func(gtx layout.Context) layout.Dimensions {
							title := material.Body1(a.theme, "Channels")
							title.Font.Weight = 700
							return layout.Inset{Bottom: unit.Dp(8)}.Layout(gtx, title.Layout)
						}),
						layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
							return material.List(a.theme, &a.channelList).Layout(gtx, len(channels),
								func(gtx layout.Context, i int) layout.Dimensions {
									ch := channels[i]
									if a.channelButtons[i].Clicked(gtx) {
										a.replica.SetCurrentChannel(ch.ID)
										if len(ch.Messages) > 0 {
											a.state.SetReadMarker(ch.ID, ch.Messages[0].ID)
										}
									}

									btn := material.Button(a.theme, &a.channelButtons[i], "#"+ch.Name)
									btn.TextSize = unit.Sp(14)
									if ch.ID == a.replica.CurrentChannel() {
										btn.Background = accentColor
										btn.Color = white
									} else {
										btn.Background = neutralColor
										btn.Color = black
									}
									return layout.Inset{Top: unit.Dp(2), Bottom: unit.Dp(2)}.Layout(gtx, btn.Layout)
								})
						}),
					)
				})
			})
	})
}

func (a *App) layoutMessages(gtx layout.Context) layout.Dimensions {
	ch, ok := a.replica.Channel(a.replica.CurrentChannel())
	if !ok {
		label := material.Body2(a.theme, "No channel selected.")
		label.Color = mutedTextGray
		return layout.UniformInset(unit.Dp(16)).Layout(gtx, label.Layout)
	}

	// Replica stores newest-first; render oldest at the top.
	msgs := ch.Messages
	count := len(msgs)

	return layout.UniformInset(unit.Dp(8)).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return material.List(a.theme, &a.messageList).Layout(gtx, count,
			func(gtx layout.Context, i int) layout.Dimensions {
				msg := msgs[count-1-i]
				return a.layoutMessage(gtx, msg)
			})
	})
}

func (a *App) layoutMessage(gtx layout.Context, msg protocol.Message) layout.Dimensions {
	ts := msg.Timestamp
	if parsed, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
		ts = parsed.Local().Format("15:04")
	}

	return layout.Inset{Top: unit.Dp(4), Bottom: unit.Dp(4)}.Layout(gtx,
		func(gtx layout.Context) layout.Dimensions {
			return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					header := material.Caption(a.theme, fmt.Sprintf("%s  %s", msg.Sender, ts))
					if msg.Sender == a.replica.Username() {
						header.Color = accentColor
					} else {
						header.Color = mutedTextGray
					}
					header.Font.Weight = 700
					return header.Layout(gtx)
				}),
				layout.Rigid(material.Body2(a.theme, msg.Body).Layout),
			)
		})
}

func (a *App) layoutComposer(gtx layout.Context) layout.Dimensions {
	send := func() {
		body := a.messageEditor.Text()
		if body == "" {
			return
		}
		ch, ok := a.replica.Channel(a.replica.CurrentChannel())
		if !ok {
			return
		}
		a.conn.SendEvent(protocol.TypeMessageSend, &protocol.MessageSendEvent{
			ChannelID: ch.ID,
			Body:      body,
		})
		a.messageEditor.SetText("")
	}

	if a.sendBtn.Clicked(gtx) {
		send()
	}
	for {
		ev, ok := a.messageEditor.Update(gtx)
		if !ok {
			break
		}
		if _, submitted := ev.(widget.SubmitEvent); submitted {
			send()
		}
	}

	return layout.UniformInset(unit.Dp(8)).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle}.Layout(gtx,
			layout.Flexed(1, a.borderedEditor(&a.messageEditor, "Message #channel")),
			layout.Rigid(layout.Spacer{Width: unit.Dp(8)}.Layout),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				btn := material.Button(a.theme, &a.sendBtn, "Send")
				btn.Background = accentColor
				btn.Color = white
				return btn.Layout(gtx)
			}),
		)
	})
}
