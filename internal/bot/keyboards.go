package bot

import tele "gopkg.in/telebot.v4"

// Button labels double as the match keys for menu navigation.
const (
	btnSchedule = "Queue posts ⌛"
	btnList     = "Scheduled posts 📝"
	btnSettings = "Settings ⚙️"

	btnFinish = "Finish ✅"

	btnPrev     = "◀️ Prev"
	btnNext     = "Next ▶️"
	btnDelete   = "Delete ❌"
	btnDoneView = "Done ✅"

	btnChannel = "Change channel"
	btnTimes   = "Change publish times"
	btnFooter  = "Change footer text"
	btnBack    = "Back to menu"
)

func mainKeyboard() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	rm.Reply(
		rm.Row(rm.Text(btnSchedule)),
		rm.Row(rm.Text(btnList)),
		rm.Row(rm.Text(btnSettings)),
	)
	return rm
}

func scheduleKeyboard() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	rm.Reply(rm.Row(rm.Text(btnFinish)))
	return rm
}

func viewKeyboard() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	rm.Reply(
		rm.Row(rm.Text(btnPrev), rm.Text(btnNext)),
		rm.Row(rm.Text(btnDelete), rm.Text(btnDoneView)),
	)
	return rm
}

func settingsKeyboard() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	rm.Reply(
		rm.Row(rm.Text(btnChannel)),
		rm.Row(rm.Text(btnTimes)),
		rm.Row(rm.Text(btnFooter)),
		rm.Row(rm.Text(btnBack)),
	)
	return rm
}
