package domain

// Channel names follow entity:scope:id. They are never stored; a channel
// exists as soon as somebody references it.
const (
	ChannelRequestsAll      = "requests:all"
	ChannelRequestsNew      = "requests:new"
	ChannelExecutorsAll     = "executors:all"
	ChannelMeetingsAll      = "meetings:all"
	ChannelAnnouncementsAll = "announcements:all"
	ChannelChatAll          = "chat:all"
)

func UserChannel(userID string) string {
	return "user:" + userID
}

func ChatUserChannel(userID string) string {
	return "chat:user:" + userID
}

func ResidentRequestsChannel(residentID string) string {
	return "requests:resident:" + residentID
}

func ExecutorRequestsChannel(executorID string) string {
	return "requests:executor:" + executorID
}

func RescheduleUserChannel(userID string) string {
	return "reschedule:user:" + userID
}

func BuildingAnnouncementsChannel(buildingID string) string {
	return "announcements:building:" + buildingID
}

func BuildingMeetingsChannel(buildingID string) string {
	return "meetings:building:" + buildingID
}
