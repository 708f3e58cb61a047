package discord

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/pusherbot/pusherbot/internal/gateway"
	"github.com/pusherbot/pusherbot/internal/service"
	"github.com/pusherbot/pusherbot/internal/store/model"
)

const (
	jobsPerSection      = 8
	buttonsPerRow       = 5
	maxRowsPerMessage   = 5
	descriptionPreview  = 50
	colorBoard          = 0xFFD700
	colorJobs           = 0x57F287
	colorPermanent      = 0x5865F2
	colorStats          = 0xEB459E
	fieldTitleMaxLength = 100
	fieldTextMaxLength  = 500
	rewardMaxLength     = 100
	pointsMaxLength     = 6
	embedFieldMaxLength = 1024
)

// Form field ids. They only need to be unique within a modal.
const (
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldReward      = "reward"
	fieldPoints      = "points"
	fieldText        = "text"
)

func boardHeader() *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Job board",
			Description: "Open jobs and standing tasks. Press a number to take it.",
			Color:       colorBoard,
		}},
	}
}

// boardMessages renders the permanent catalogue and the active jobs. Every
// message stays within Discord's limit of five rows of five buttons.
func boardMessages(jobs model.JobList, permanent model.PermanentJobList) []*discordgo.MessageSend {
	msgs := []*discordgo.MessageSend{}

	if len(permanent) > 0 {
		var b strings.Builder
		buttons := make([]discordgo.MessageComponent, 0, len(permanent))
		for i, p := range permanent {
			n := i + 1
			fmt.Fprintf(&b, "**#%d** %s\n", n, p.Text)
			buttons = append(buttons, discordgo.Button{
				Label:    fmt.Sprintf("#%d", n),
				Style:    discordgo.SecondaryButton,
				CustomID: gateway.NewAction(gateway.ActionTakePermanent, fmt.Sprint(n)).String(),
			})
		}
		msgs = append(msgs, &discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{{Title: "Permanent jobs", Description: b.String(), Color: colorPermanent}},
			Components: buttonRows(buttons),
		})
	}

	if len(jobs) == 0 {
		msgs = append(msgs, &discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{{Title: "Member jobs", Description: "No jobs right now.", Color: colorJobs}},
		})
		return msgs
	}

	sections := (len(jobs) + jobsPerSection - 1) / jobsPerSection
	for s := 0; s < sections; s++ {
		end := min((s+1)*jobsPerSection, len(jobs))
		section := jobs[s*jobsPerSection : end]

		title := "Member jobs"
		if sections > 1 {
			title = fmt.Sprintf("Member jobs (%d/%d)", s+1, sections)
		}

		var b strings.Builder
		buttons := []discordgo.MessageComponent{}
		for _, j := range section {
			b.WriteString(jobLine(j))
			if j.Status == model.JobStatusOpen {
				buttons = append(buttons, discordgo.Button{
					Label:    fmt.Sprintf("#%d", j.SequenceNumber),
					Style:    discordgo.SuccessButton,
					CustomID: gateway.NewAction(gateway.ActionTakeJob, j.ID).String(),
				})
			}
		}
		msgs = append(msgs, &discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{{Title: title, Description: b.String(), Color: colorJobs}},
			Components: buttonRows(buttons),
		})
	}
	return msgs
}

func jobLine(j model.Job) string {
	var b strings.Builder
	state := "open"
	if j.IsClaimed() {
		state = "taken"
	}
	fmt.Fprintf(&b, "**#%d** [%s] **%s**\n", j.SequenceNumber, state, j.Title)
	fmt.Fprintf(&b, "> %s\n", truncate(j.Description, descriptionPreview))
	if j.RewardDescription != "" {
		fmt.Fprintf(&b, "> Reward: %s\n", j.RewardDescription)
	}
	fmt.Fprintf(&b, "> By: %s\n", j.RequesterDisplayName)
	if _, name := j.Claimant(); j.IsClaimed() {
		fmt.Fprintf(&b, "> Worker: %s\n", name)
	}
	b.WriteString("\n")
	return b.String()
}

func memberMessage() *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Post a job",
			Description: "Need a hand? Press the button, fill in the form and a worker will pick it up in a private channel.",
			Color:       colorPermanent,
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Create job",
					Style:    discordgo.PrimaryButton,
					CustomID: gateway.NewAction(gateway.ActionCreateJob, "").String(),
				},
			}},
		},
	}
}

func statsMessage(rankings []service.Ranking, recent model.CompletionRecordList, scoring service.Scoring) *discordgo.MessageSend {
	var top strings.Builder
	if len(rankings) == 0 {
		top.WriteString("No workers yet.")
	}
	for i, r := range rankings {
		fmt.Fprintf(&top, "%d. **%s** %d completed, %d points\n", i+1, r.DisplayName, r.Completed, r.Points)
	}

	var latest strings.Builder
	if len(recent) == 0 {
		latest.WriteString("Nothing completed yet.")
	}
	for _, c := range recent {
		fmt.Fprintf(&latest, "**#%d** %s by %s (%d points)\n", c.SequenceNumber, c.Title, c.ClaimantDisplayName, c.RewardPoints)
	}

	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title: "Worker statistics",
			Color: colorStats,
			Fields: []*discordgo.MessageEmbedField{
				{Name: fmt.Sprintf("Ranking (by %s)", scoring), Value: truncate(top.String(), embedFieldMaxLength)},
				{Name: "Recent completions", Value: truncate(latest.String(), embedFieldMaxLength)},
			},
		}},
	}
}

// controlPanel is posted in the private channel of a claim.
func controlPanel(job *model.Job) *discordgo.MessageSend {
	claimantID, _ := job.Claimant()
	return &discordgo.MessageSend{
		Content: fmt.Sprintf("<@%s> <@%s> this channel is for job **#%d** %s.", job.RequesterID, claimantID, job.SequenceNumber, job.Title),
		Embeds: []*discordgo.MessageEmbed{{
			Title:       fmt.Sprintf("#%d %s", job.SequenceNumber, job.Title),
			Description: job.Description,
			Color:       colorJobs,
			Fields:      rewardField(job.RewardDescription),
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Cancel", Style: discordgo.SecondaryButton, CustomID: gateway.NewAction(gateway.ActionCancelJob, job.ID).String()},
				discordgo.Button{Label: "Complete", Style: discordgo.SuccessButton, CustomID: gateway.NewAction(gateway.ActionCompleteJob, job.ID).String()},
				discordgo.Button{Label: "Force close", Style: discordgo.DangerButton, CustomID: gateway.NewAction(gateway.ActionForceClose, job.ID).String()},
			}},
		},
	}
}

func permanentPanel(a *service.PermanentAssignment) *discordgo.MessageSend {
	target := fmt.Sprint(a.Position)
	return &discordgo.MessageSend{
		Content: fmt.Sprintf("<@%s> <@%s> permanent job **#%d**: %s", a.Worker.ID, a.Coordinator.ID, a.Position, a.Text),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Close", Style: discordgo.SecondaryButton, CustomID: gateway.NewAction(gateway.ActionClosePermanent, target).String()},
				discordgo.Button{Label: "Force close", Style: discordgo.DangerButton, CustomID: gateway.NewAction(gateway.ActionForceClosePerm, target).String()},
			}},
		},
	}
}

func createJobModal() *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		CustomID: gateway.NewAction(gateway.ActionCreateJobModal, "").String(),
		Title:    "Create job",
		Components: []discordgo.MessageComponent{
			textInput(fieldTitle, "Title", discordgo.TextInputShort, true, fieldTitleMaxLength, ""),
			textInput(fieldDescription, "Description", discordgo.TextInputParagraph, true, fieldTextMaxLength, ""),
			textInput(fieldReward, "Reward", discordgo.TextInputShort, false, rewardMaxLength, ""),
		},
	}
}

func completeJobModal(jobID string) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		CustomID: gateway.NewAction(gateway.ActionCompleteJobModal, jobID).String(),
		Title:    "Complete job",
		Components: []discordgo.MessageComponent{
			textInput(fieldPoints, "Reward points", discordgo.TextInputShort, false, pointsMaxLength, ""),
		},
	}
}

func permanentTextModal(kind gateway.ActionKind, target, title, value string) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		CustomID: gateway.NewAction(kind, target).String(),
		Title:    title,
		Components: []discordgo.MessageComponent{
			textInput(fieldText, "Text", discordgo.TextInputShort, true, fieldTitleMaxLength, value),
		},
	}
}

// permanentPicker lets an admin choose a catalogue entry. Options show the
// position but carry the row id.
func permanentPicker(kind gateway.ActionKind, placeholder string, catalogue model.PermanentJobList) []discordgo.MessageComponent {
	options := make([]discordgo.SelectMenuOption, 0, len(catalogue))
	for i, p := range catalogue {
		if i == 25 {
			break
		}
		options = append(options, discordgo.SelectMenuOption{
			Label: truncate(fmt.Sprintf("#%d %s", i+1, p.Text), fieldTitleMaxLength),
			Value: fmt.Sprint(p.ID),
		})
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				CustomID:    gateway.NewAction(kind, "").String(),
				Placeholder: placeholder,
				Options:     options,
			},
		}},
	}
}

func textInput(id, label string, style discordgo.TextInputStyle, required bool, maxLength int, value string) discordgo.MessageComponent {
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.TextInput{
			CustomID:  id,
			Label:     label,
			Style:     style,
			Required:  required,
			MaxLength: maxLength,
			Value:     value,
		},
	}}
}

func rewardField(reward string) []*discordgo.MessageEmbedField {
	if reward == "" {
		return nil
	}
	return []*discordgo.MessageEmbedField{{Name: "Reward", Value: reward}}
}

func buttonRows(buttons []discordgo.MessageComponent) []discordgo.MessageComponent {
	rows := []discordgo.MessageComponent{}
	for i := 0; i < len(buttons) && len(rows) < maxRowsPerMessage; i += buttonsPerRow {
		end := min(i+buttonsPerRow, len(buttons))
		rows = append(rows, discordgo.ActionsRow{Components: buttons[i:end]})
	}
	return rows
}

// modalValues flattens the text inputs of a submitted modal by field id.
func modalValues(components []discordgo.MessageComponent) map[string]string {
	values := map[string]string{}
	for _, c := range components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if ti, ok := inner.(*discordgo.TextInput); ok {
				values[ti.CustomID] = ti.Value
			}
		}
	}
	return values
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
