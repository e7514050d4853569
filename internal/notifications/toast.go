package notifications

// Toast describes the transient banner shown for a pushed event, independent
// of whether the panel is open.
type Toast struct {
	Title   string
	Icon    string
	Variant string
}

var toastStyles = map[Type]struct {
	icon    string
	variant string
}{
	TypeNewPost:          {icon: "megaphone", variant: "info"},
	TypeActivityAssigned: {icon: "clipboard", variant: "info"},
	TypeDeliveryReviewed: {icon: "check-circle", variant: "success"},
	TypeEventReminder:    {icon: "calendar", variant: "warning"},
	TypeRewardGranted:    {icon: "trophy", variant: "success"},
}

// ToastFor maps an event to its toast presentation, falling back to a plain
// bell for unknown types.
func ToastFor(event Event) Toast {
	style, ok := toastStyles[event.Type]
	if !ok {
		style.icon = "bell"
		style.variant = "neutral"
	}
	return Toast{Title: event.Title, Icon: style.icon, Variant: style.variant}
}
