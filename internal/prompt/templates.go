package prompt

// Template identifies one of the prompt shapes the builder can produce.
type Template string

const (
	TemplateFuturePlans     Template = "future_plans"
	TemplateCurrentActivity Template = "current_activity"
	TemplateReaction        Template = "reaction"
	TemplateMemoryRank      Template = "memory_rank"
	TemplateAskQuestion     Template = "ask_question"
	TemplateConversation    Template = "conversation"
	TemplateObjectStates    Template = "object_states"
)

// NoConversation is the reply that declines a conversation.
const NoConversation = "No conversation"

var templates = map[Template]string{
	TemplateFuturePlans: `[Agent Summary Description]
It is [Current Time].
Based on what you know and the current time, guess what [Agent Name] will do for the rest of the day.

For example:
1. Walk to the school from 9am-9:30am
2. Take a test from 12pm-12:30pm
3. Go to lunch from 2pm-3pm
4. Work on a project after school from 2:30pm-3pm
5. Have dinner from 5pm-5:30pm

Respond using a bullet list of 5 activities and times. Do not use pronouns.`,

	TemplateCurrentActivity: `[World Description]
[Agent Summary Description]
It is [Current Time].
[Future Plans]

What is [Agent Name] doing now? [Agent Name] is always engaged in an activity.
For last_activity fill in the past tense of this sentence: [Current Activity]
Respond confidently in the following JSON format:

{
  "last_activity": "<fill in>",
  "location": "<fill in>",
  "activity": "I am <fill in>",
  "emoji": "<fill in>"
}`,

	TemplateReaction: `[World Description]
[Agent Summary Description]
It is [Current Time].
[Agent Name]'s status: [Current Activity]
Observation: %observation%
Summary of relevant context from [Agent Name]'s memory:
%relevant_memories%

Should [Agent Name] react to the observation, and if so, what would the reaction be?
Prefer to stay in a close by area.

Respond in the following JSON format:

{
  "react": "<yes/no>",
  "action": "I am <your current activity>",
  "location": "<your current location>",
  "emoji": "<pick an emoji to represent your current activity>"
}`,

	TemplateMemoryRank: `On the scale of 1 to 10, where 1 is purely mundane (e.g., brushing teeth, making bed) and 10 is extremely poignant (e.g., a break up, college acceptance), rate the likely poignancy of the following pieces of memory of [Agent Name]. Always answer with only a list of numbers. For example, if given the following memories Memories: John did nothing, John went to school, John saw a concert
respond with [1, 3, 5]. If just given one memory still respond in a list. Memories are separated by commas. Memories: %memories%`,

	TemplateAskQuestion: `[World Description]
[Agent Summary Description]
It is [Current Time].
%relevant_memories%

Pretend you are [Agent Name] and answer the following question in the first person: %question%`,

	TemplateConversation: `[Agent Summary Description]
[Agent Name]'s status: [Current Activity]

%other_summary_description%

Summary of relevant context from [Agent Name]'s memory:
%relevant_memories%

First, decide whether or not [Agent Name] is going to initiate a conversation with %other_name%.

If [Agent Name] is not going to initiate a conversation respond with "` + NoConversation + `"

Otherwise, create a fake conversation between [Agent Name] and %other_name%

For example, a conversation between people named A and B would look like this

A: Hello, how are you today?
B: I am good, and you?`,

	TemplateObjectStates: `[World Description]
Description: %status%

Objects near [Agent Name]:
%objects%

What are the new states of the objects?
Respond in the following format:

<Object>: <State>

For example, if John is no longer cooking coffee and is now taking a shower
Coffee Machine: Off
Shower: On

Do not include objects which have not been changed.`,
}
