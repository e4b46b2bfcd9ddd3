package realtime

import (
	"strings"

	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/samber/lo"
)

// maxChannelLength bounds client-supplied channel names.
const maxChannelLength = 128

// InitialChannels derives the channels a session starts with from its
// identity. PartitionID doubles as the building for residents.
func InitialChannels(identity domain.Identity) []string {
	id := identity.UserID
	channels := []string{
		domain.UserChannel(id),
		domain.ChatUserChannel(id),
	}

	switch {
	case identity.Role == domain.RoleResident:
		channels = append(channels,
			domain.ResidentRequestsChannel(id),
			domain.RescheduleUserChannel(id),
		)
		if identity.PartitionID != "" {
			channels = append(channels,
				domain.BuildingAnnouncementsChannel(identity.PartitionID),
				domain.BuildingMeetingsChannel(identity.PartitionID),
			)
		}
	case identity.Role.IsExecutor():
		channels = append(channels,
			domain.ExecutorRequestsChannel(id),
			domain.ChannelRequestsNew,
			domain.RescheduleUserChannel(id),
			domain.ChannelAnnouncementsAll,
		)
	case identity.Role.IsManagement():
		channels = append(channels,
			domain.ChannelRequestsAll,
			domain.ChannelExecutorsAll,
			domain.ChannelMeetingsAll,
			domain.ChannelAnnouncementsAll,
			domain.ChannelChatAll,
		)
	}

	return normalizeChannels(channels)
}

// normalizeChannels trims names, drops empty or oversized ones and removes
// duplicates while keeping the first occurrence order.
func normalizeChannels(channels []string) []string {
	cleaned := lo.FilterMap(channels, func(c string, _ int) (string, bool) {
		c = strings.TrimSpace(c)
		return c, c != "" && len(c) <= maxChannelLength
	})
	return lo.Uniq(cleaned)
}
