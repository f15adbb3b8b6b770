package jobslistener

// Topic and payload constants mirror the AWS IoT Jobs MQTT topics bit for
// bit; thing name is substituted verbatim, job id is substituted verbatim
// into the update topic.
const (
	nextJobChangedSuffix = "/jobs/notify-next-namespace-aws-gg-deployment"
	getNextJobSuffix     = "/jobs/$next/namespace-aws-gg-deployment/get"

	clientToken = "jobs-nucleus-lite"
	nextJobID   = "$next"
)

func thingTopicPrefix(thingName string) string {
	return "$aws/things/" + thingName
}

func nextJobChangedTopic(thingName string) string {
	return thingTopicPrefix(thingName) + nextJobChangedSuffix
}

func getNextJobTopic(thingName string) string {
	return thingTopicPrefix(thingName) + getNextJobSuffix
}

func updateJobTopic(thingName, jobID string) string {
	return thingTopicPrefix(thingName) + "/jobs/" + jobID + "/namespace-aws-gg-deployment/update"
}

// acceptedTopic and rejectedTopic are the request/response correlation
// topics AWS IoT Jobs publishes replies on; subscribing to both around a
// publish is how a call-and-block RPC is built over a topic that itself
// carries no response, blocking the calling goroutine until a response
// arrives or the call times out.
func acceptedTopic(requestTopic string) string { return requestTopic + "/accepted" }
func rejectedTopic(requestTopic string) string { return requestTopic + "/rejected" }
