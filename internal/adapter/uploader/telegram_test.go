package uploader

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/kibotos/kibotos/internal/config"
)

func TestNewTelegram(t *testing.T) {
	Convey("Given a telegram uploader config", t, func() {
		Convey("a malformed chat id is rejected before the bot is contacted", func() {
			up, err := NewTelegram(&config.UploaderConfig{
				BotToken: "token",
				ChatID:   "not-a-number",
			}, nil)
			So(up, ShouldBeNil)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "invalid telegram chat id")
		})

		Convey("an empty chat id is rejected as well", func() {
			up, err := NewTelegram(&config.UploaderConfig{
				BotToken: "token",
				ChatID:   "",
			}, nil)
			So(up, ShouldBeNil)
			So(err, ShouldNotBeNil)
		})
	})
}
